package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"modelstore/internal/artifacts"
	"modelstore/internal/config"
	"modelstore/internal/runcontext"
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a top-level context",
	Long: `Initialize a top-level context in the specified directory (or the --context directory).

Creates the model database, the shared log and a default settings.yaml.
Running init on an existing context leaves its content untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := contextDir
	if len(args) > 0 {
		targetDir = args[0]
	}

	absDir, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	out := cmd.OutOrStdout()
	existed := runcontext.Exists(filepath.Base(absDir), filepath.Dir(absDir))
	c, err := runcontext.New(filepath.Base(absDir), filepath.Dir(absDir))
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintf(out, "Reinitialized existing context %s\n", c.ContextPath())
	} else {
		fmt.Fprintf(out, "Initialized empty context %s in %s\n", c.ContextPath(), absDir)
	}

	if !c.IsTop() {
		return nil
	}
	settingsPath := filepath.Join(absDir, config.SettingsFile)
	if _, err := os.Stat(settingsPath); err == nil {
		fmt.Fprintf(out, "  %s already exists (not modified)\n", config.SettingsFile)
		return nil
	}
	if err := os.WriteFile(settingsPath, artifacts.DefaultSettings, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", config.SettingsFile, err)
	}
	fmt.Fprintf(out, "  created %s\n", config.SettingsFile)
	return nil
}
