package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/extract/sites"
)

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "Lists the catalog presets and their categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range sites.Names() {
				preset, err := sites.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\ttransport=%s\toutput=%s\n", preset.Name, preset.BaseURL, preset.Transport, preset.Object)
				for _, c := range preset.Categories() {
					fmt.Fprintf(w, "\t%s\t%s\t\n", c.Name, c.URL)
				}
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("write site list: %w", err)
			}
			return nil
		},
	}
}
