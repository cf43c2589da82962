// Package main provides the entry point for the argthread CLI tool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bredelings/argweaver/cmd/argthread/commands"
	"github.com/bredelings/argweaver/pkg/version"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "argthread",
		Short: "argthread - thread chromosomes into an ancestral recombination graph",
		Long: `argthread samples chromosome threadings of an ancestral recombination
graph under the sequentially Markov coalescent.

Commands:
  thread    Build an ARG by threading chromosomes one at a time`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewThreadCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "argthread %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
