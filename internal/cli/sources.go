package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/briangreenhill/roomwatch/internal/config"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured facilities in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tNAME\tUPSTREAM")
			for _, fc := range cfg.Facilities() {
				upstream := ""
				switch {
				case fc.API != nil:
					upstream = fc.API.Endpoint
				case fc.Widget != nil:
					upstream = fc.Widget.URLTemplate
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", fc.ID, fc.Kind, fc.Name, upstream)
			}
			return tw.Flush()
		},
	}
}
