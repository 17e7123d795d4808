package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Lists the configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tJURISDICTION\tLIST URL")
			for _, def := range cfg.Sources {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, def.Kind, def.Jurisdiction, def.ListingURL())
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("write sources: %w", err)
			}
			return nil
		},
	}
}
