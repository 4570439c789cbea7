package cli

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/briangreenhill/roomwatch/internal/hours"
	"github.com/briangreenhill/roomwatch/internal/rooms"
)

func newHoursCmd() *cobra.Command {
	var (
		file string
		row  string
		week string
	)

	c := &cobra.Command{
		Use:   "hours",
		Short: "Parse a saved hours table and print one row",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := rooms.ParseDate(week)
			if err != nil {
				return err
			}
			start = start.WeekStart()

			markup, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			days, ok := hours.Parse(string(markup), row, start)
			if !ok {
				return fmt.Errorf("no row matching %q in %s", row, file)
			}

			out := cmd.OutOrStdout()
			for i := 0; i < 7; i++ {
				d := start.AddDays(i)
				fmt.Fprintf(out, "%s %s  %s\n", d, d.Weekday().String()[:3], formatDay(days[d]))
			}
			return nil
		},
	}

	c.Flags().StringVar(&file, "file", "", "HTML file holding the hours table")
	c.Flags().StringVar(&row, "row", "", "label of the row to read")
	c.Flags().StringVar(&week, "week", "", "any date in the week (YYYY-MM-DD)")
	_ = c.MarkFlagRequired("file")
	_ = c.MarkFlagRequired("row")
	_ = c.MarkFlagRequired("week")
	return c
}

func formatDay(h rooms.DayHours) string {
	if h.Closed {
		return "closed"
	}
	s := formatHour(h.Open) + "-" + formatHour(h.Close)
	if h.Label != "" {
		s += " [" + h.Label + "]"
	}
	if h.Note != "" {
		s += " (" + h.Note + ")"
	}
	return s
}

func formatHour(v float64) string {
	mins := int(math.Round(v * 60))
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}
