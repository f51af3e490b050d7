package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	rootDir    string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "typewatch",
		Short: "typewatch - keep @types packages in sync with your manifests",
		Long: `typewatch watches package.json and bower.json and installs or removes
the matching @types/* declaration packages whenever dependencies change.

Commands run one at a time through npm (default) or yarn.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default <root>/.typewatch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", ".", "project root containing the manifests")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newWatchCommand(version))
	rootCmd.AddCommand(newInstallAllCommand(version))
	rootCmd.AddCommand(newDiffCommand())

	return rootCmd
}
