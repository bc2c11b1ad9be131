package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"modelstore/internal/runcontext"
)

var logScope string

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the context log",
	Long: `Show log rows written by workflow runs.

Scopes:
  everything             every row in the context tree (default)
  this                   rows written by this context
  this-and-descendants   rows written by this context and its subcontexts`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <name> [text]",
	Short: "Show or set the annotation of a model name",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAnnotate,
}

func init() {
	logCmd.Flags().StringVarP(&logScope, "scope", "s", "everything", "which rows to show")
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(annotateCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	scope, err := runcontext.ParseScope(logScope)
	if err != nil {
		return err
	}
	c, _, err := openContext()
	if err != nil {
		return err
	}
	rows, err := c.ReadLog(cmd.Context(), scope)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range rows {
		fmt.Fprintf(out, "%-14s %-8s %-20s %s\n", humanize.Time(r.Time), r.Severity, r.Path, r.Message)
	}
	return nil
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	c, _, err := openContext()
	if err != nil {
		return err
	}
	if len(args) == 2 {
		return c.PutAnnotation(cmd.Context(), args[0], args[1])
	}
	text, err := c.GetAnnotation(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
