package commands

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var datasetsVerify bool

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List stored datasets",
	Long: `List the physical dataset files in the model database with their content hash.

With --verify, re-hash every stored file and report entries that are missing
or no longer match their index.`,
	Args: cobra.NoArgs,
	RunE: runDatasets,
}

func init() {
	datasetsCmd.Flags().BoolVar(&datasetsVerify, "verify", false, "re-hash stored datasets")
	rootCmd.AddCommand(datasetsCmd)
}

func runDatasets(cmd *cobra.Command, args []string) error {
	c, _, err := openContext()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	store := c.ModelDatabase().Datasets()

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	var total uint64
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-24s %10s\n", e.Hash[:12], filepath.Base(e.Path), humanize.Bytes(uint64(e.Size)))
		total += uint64(e.Size)
	}
	fmt.Fprintf(out, "%s datasets, %s\n", humanize.Comma(int64(len(entries))), humanize.Bytes(total))

	if !datasetsVerify {
		return nil
	}
	problems, err := store.Verify(ctx)
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Fprintf(out, "  %v\n", p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d corrupt dataset entries", len(problems))
	}
	fmt.Fprintln(out, "All datasets verified")
	return nil
}
