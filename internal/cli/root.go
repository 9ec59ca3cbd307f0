// Package cli wires the pipeweld commands.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	pipelineFile string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:          "pipeweld",
	Short:        "pipeweld runs declarative build/security pipelines",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&pipelineFile, "file", "f", "pipeline.yaml", "pipeline definition file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(journalCmd)
}

// Execute runs the root command. The process exit code reflects the run's
// terminal state: zero only for success.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
