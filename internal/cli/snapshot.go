package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/briangreenhill/roomwatch/internal/app"
	"github.com/briangreenhill/roomwatch/internal/config"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

func newSnapshotCmd() *cobra.Command {
	var (
		date   string
		asJSON bool
	)

	c := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch every facility once for a date and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(cfg.LogLevel, "console", os.Stderr)
			if err != nil {
				return err
			}
			cfg.RedisAddr = ""

			a, err := app.New(cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			d := rooms.Today(a.Clock().Now(), cfg.Location())
			if date != "" {
				if d, err = rooms.ParseDate(date); err != nil {
					return err
				}
			}

			snap, _, err := a.Orchestrator.Snapshot(cmd.Context(), d, true)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	c.Flags().StringVar(&date, "date", "", "date to fetch (YYYY-MM-DD, default today)")
	c.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return c
}

func printSnapshot(w io.Writer, snap rooms.Snapshot) {
	fmt.Fprintf(w, "%s  run=%s  took=%dms\n", snap.Date, snap.RunID, snap.DurationMs)
	for _, f := range snap.Facilities {
		if f.Fault != nil {
			fmt.Fprintf(w, "\n%s [%s]: %s\n", f.Name, f.Fault.Kind, f.Fault.Message)
			continue
		}
		fmt.Fprintf(w, "\n%s (%d rooms)\n", f.Name, len(f.Rooms))
		for _, r := range f.Rooms {
			free := 0
			for _, s := range r.Slots {
				if s.Available {
					free++
				}
			}
			fmt.Fprintf(w, "  %-24s %2d/%-2d free\n", r.DisplayName, free, len(r.Slots))
		}
	}
}
