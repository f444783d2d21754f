// Package main is news-replay, a CLI that feeds recorded contest history
// through the reporter with a simulated clock and prints the posts it would
// have made. It also exports history from the stopwatch database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kassenews/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	b := config.NewBuildInfo()
	root := &cobra.Command{
		Use:     "news-replay",
		Short:   "Replay recorded time trials through the news reporter",
		Version: fmt.Sprintf("%s (%s)", b.Version, b.Commit),
		Long: `news-replay runs the reporter against recorded contest history, day by
day, and prints every post, edit and comment it would have published.

History is read from a JSON dump (optionally zstd-compressed), an s3:// URI
or directly from the stopwatch database.`,
		SilenceUsage: true,
	}
	root.AddCommand(runCmd())
	root.AddCommand(exportCmd())
	return root
}
