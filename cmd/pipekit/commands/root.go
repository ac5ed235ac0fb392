package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath string
	verbose      bool
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pipekit",
		Short: "PipelineKit - Pipeline Configuration Bootstrap Toolkit",
		Long: `PipelineKit resolves, downloads and maintains pipeline configurations
and the bundles they reference.

Features:
  - Location specifiers with a stable URI form
  - App-store, git, uploaded and path-based bundle transports
  - Atomic, multi-process safe bundle cache
  - Configuration resolution with sandbox/project/site precedence
  - Safe configuration updates with backup and rollback`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDevCommand())

	return rootCmd
}
