package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"modelstore/internal/common"
	"modelstore/internal/modeldb"
)

var modelsAll bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models named in a context",
	Long: `List the model names linked in the context and the record each one points at.

With --all, list every record in the shared model database instead, marking
records that are still pending.`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a named model and its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	modelsCmd.Flags().BoolVarP(&modelsAll, "all", "a", false, "list every record in the model database")
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(showCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	c, _, err := openContext()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	db := c.ModelDatabase()

	if modelsAll {
		keys, err := db.ListModels()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if db.IsPending(k) {
				fmt.Fprintf(out, "%s\t(pending)\n", k)
			} else {
				fmt.Fprintf(out, "%s\n", k)
			}
		}
		return nil
	}

	names, err := c.ListNames()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintf(out, "No models in %s\n", c.ContextPath())
		return nil
	}
	for _, name := range names {
		key, err := c.ResolveName(name)
		if err != nil {
			fmt.Fprintf(out, "%s\t<%v>\n", name, err)
			continue
		}
		fmt.Fprintf(out, "%s\t-> %s\n", name, key)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	c, _, err := openContext()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	name := args[0]

	key, err := c.ResolveName(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Name: %s\n", name)
	fmt.Fprintf(out, "Key: %s\n", key)
	if text, err := c.GetAnnotation(ctx, name); err == nil {
		fmt.Fprintf(out, "Annotation: %s\n", text)
	}

	return c.ModelDatabase().Snapshot(ctx, key, func(snap *modeldb.Snapshot) error {
		e, err := snap.RetrieveModelEntry()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Model file: %s (%s)\n", e.Model.Filename(), e.Model.Format.Name())
		if e.Model.Dataset != nil {
			fmt.Fprintf(out, "Dataset: %s\n", e.Model.Dataset.Path)
		}
		if e.Parent != "" {
			fmt.Fprintf(out, "Parent: %s\n", e.Parent)
		}
		if e.Results == nil {
			fmt.Fprintln(out, "Results: none")
			return nil
		}
		if e.Results.OFV != nil {
			fmt.Fprintf(out, "OFV: %g\n", *e.Results.OFV)
		}
		params := make([]string, 0, len(e.Results.ParameterEstimates))
		for p := range e.Results.ParameterEstimates {
			params = append(params, p)
		}
		for _, p := range common.SortAlphanum(params) {
			fmt.Fprintf(out, "  %-12s %g\n", p, e.Results.ParameterEstimates[p])
		}
		for _, l := range e.Results.Errors() {
			fmt.Fprintf(out, "  %s: %s\n", l.Category, l.Message)
		}
		return nil
	})
}
