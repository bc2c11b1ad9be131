package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"modelstore/internal/modeldb"
	"modelstore/internal/util"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List records with a pending marker",
	Long: `List records whose transaction is still open, failed, or was interrupted.

A pending record cannot be read or rewritten until its marker is cleared with
'modelstore repair'.`,
	Args: cobra.NoArgs,
	RunE: runPending,
}

var repairCmd = &cobra.Command{
	Use:   "repair <key>...",
	Short: "Clear the pending marker of records",
	Long: `Clear the pending marker of the given records so they can be read again.

Only do this once the writer is known to be gone: the record keeps whatever
the interrupted transaction managed to write.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRepair,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(repairCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	c, _, err := openContext()
	if err != nil {
		return err
	}
	keys, err := c.ModelDatabase().PendingKeys()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintln(out, "No pending records")
		return nil
	}
	for _, k := range keys {
		fmt.Fprintln(out, k)
	}
	return nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	c, settings, err := openContext()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db := c.ModelDatabase()
	for _, arg := range args {
		key := modeldb.Key(arg)
		// The database lock may be held by a live reader; back off and retry.
		err := util.Retry(ctx, func() error {
			return db.ClearPending(ctx, key)
		}, util.PendingRetryOptions(ctx, settings.RetryAttempts, settings.RetryDelay)...)
		if err != nil {
			return fmt.Errorf("failed to repair %s: %w", key, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared pending marker of %s\n", key)
	}
	return nil
}
