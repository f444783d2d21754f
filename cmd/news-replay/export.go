package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kassenews/internal/replay"
)

type exportOptions struct {
	since       string
	timeZone    string
	out         string
	compress    bool
	databaseURL string
}

func exportCmd() *cobra.Command {
	opts := exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export contest history from the database to a dump file",
		Long: `Export every time trial created since the given date, including those of
participants who opted out of the news, so it can be replayed later.

Output ending in .zst is compressed with zstd.`,
		Example: `  news-replay export --since 2026-01-01 --out history.json.zst`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(opts.timeZone)
			if err != nil {
				return fmt.Errorf("loading time zone %q: %w", opts.timeZone, err)
			}
			since, err := parseSince(opts.since, loc)
			if err != nil {
				return err
			}

			contests, err := historyFromDatabase(cmd.Context(), opts.databaseURL, since)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if opts.out != "-" {
				f, err := os.Create(opts.out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", opts.out, err)
				}
				defer f.Close()
				w = f
			}

			dump := &replay.Dump{ExportedAt: time.Now().UTC(), Contests: contests}
			compress := opts.compress || strings.HasSuffix(opts.out, ".zst")
			if err := replay.WriteDump(w, dump, compress); err != nil {
				return fmt.Errorf("writing dump: %w", err)
			}

			color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "Exported %d contests to %s\n", len(contests), opts.out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.since, "since", "", "first local date to export (YYYY-MM-DD)")
	f.StringVar(&opts.timeZone, "tz", "Europe/Copenhagen", "time zone of --since")
	f.StringVarP(&opts.out, "out", "o", "-", `output file, "-" for stdout`)
	f.BoolVar(&opts.compress, "zstd", false, "compress with zstd")
	f.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "stopwatch database")
	_ = cmd.MarkFlagRequired("since")

	return cmd
}
