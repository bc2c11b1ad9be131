// Copyright 2024 ModelStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"modelstore/internal/config"
	"modelstore/internal/logging"
	"modelstore/internal/modeldb"
	"modelstore/internal/runcontext"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	contextDir string
	logLevel   string
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, commit: %s)", version, buildDate, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var rootCmd = &cobra.Command{
	Use:   "modelstore",
	Short: "Inspect and repair model stores",
	Long: `Inspect and repair the model store and naming contexts written by workflow runs.

The store itself is a library; this tool lists records, datasets and logs,
manages annotations, and clears pending markers left behind by crashed runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		level := logLevel
		if level == "" {
			if settings, err := config.Load(contextDir); err == nil {
				level = settings.LogLevel
			}
		}
		logging.Configure(level, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("modelstore version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&contextDir, "context", "C", ".", "context directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, off)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// openContext opens the existing context named by --context, configured from
// its settings file.
func openContext() (*runcontext.Context, *config.Settings, error) {
	abs, err := filepath.Abs(contextDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	name, ref := filepath.Base(abs), filepath.Dir(abs)
	if !runcontext.Exists(name, ref) {
		return nil, nil, fmt.Errorf("%s is not a context (run 'modelstore init' first)", abs)
	}
	settings, err := config.Load(abs)
	if err != nil {
		return nil, nil, err
	}
	c, err := runcontext.New(name, ref,
		runcontext.WithLogger(logging.Component("cli")),
		runcontext.WithStoreOptions(modeldb.WithSettings(settings)),
	)
	if err != nil {
		return nil, nil, err
	}
	return c, settings, nil
}
