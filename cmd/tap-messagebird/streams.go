package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Sternrassler/tap-messagebird/internal/messagebird"
	"github.com/spf13/cobra"
)

func (a *app) streamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "List the available streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STREAM\tPARENT\tREPLICATION KEY\tPAGINATION\tENDPOINT")
			for _, d := range messagebird.Catalog(messagebird.Options{}) {
				parent := d.Parent
				if parent == "" {
					parent = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s%s\n",
					d.Name, parent, d.ReplicationKey, d.Pagination.Strategy, d.BaseURL, d.Path)
			}
			return w.Flush()
		},
	}
}
