package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPluginsCommand(c *cli) *cobra.Command {
	var showSkipped bool
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Run plugin discovery and report what was loaded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := buildStack(cmd.Context(), c.cfg, nil, nil)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tNAME\tCOMPONENTS")
			for _, e := range st.report.Loaded {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", e.Source, e.Name, e.Components)
			}
			if showSkipped && len(st.report.Skipped) > 0 {
				fmt.Fprintln(tw, "\nSKIPPED\tNAME\tREASON")
				for _, e := range st.report.Skipped {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Source, e.Name, e.Reason)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d components registered\n", st.registry.Len())
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSkipped, "skipped", false, "also list skipped candidates")
	return cmd
}
