package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/scenario"
	"github.com/spf13/cobra"
)

var substancesCategory string

var substancesCmd = &cobra.Command{
	Use:   "substances",
	Short: "List the trip catalog and selectable models",
	RunE: func(_ *cobra.Command, _ []string) error {
		catalog, err := scenario.Load()
		if err != nil {
			return err
		}

		list := catalog.List()
		if substancesCategory != "" {
			cat := domain.Category(substancesCategory)
			if !cat.IsValid() {
				return fmt.Errorf("unknown category %q", substancesCategory)
			}
			list = catalog.ByCategory(cat)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tCHAOS")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, s.Name, s.Category, s.Intensity)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "MODEL\tLABEL")
		for _, m := range scenario.Models() {
			fmt.Fprintf(w, "%s\t%s\n", m.ID(), m.Label)
		}
		return w.Flush()
	},
}

func init() {
	substancesCmd.Flags().StringVar(&substancesCategory, "category", "", "Only list substances in this category")
}
