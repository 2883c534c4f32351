package cmd

import (
	"shopsnap-backend/internal/gallery"
	"shopsnap-backend/internal/scrapers/productpage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	baseImage string
	htmlOnly  bool
)

func init() {
	imagesCmd.Flags().StringVar(&baseImage, "image", "", "Image shown when nothing better is found.")
	imagesCmd.Flags().BoolVar(&htmlOnly, "html-only", false, "Only scrape the product page.")
	rootCmd.AddCommand(imagesCmd)
}

var imagesCmd = &cobra.Command{
	Use:   "images <product url>",
	Short: "Prints the image gallery that would be shown for a product.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scraper := productpage.NewScraper(productpage.Options{}, tel)

		var details gallery.DetailSource
		if !htmlOnly {
			client, err := marketplaceClient()
			if err != nil {
				return err
			}
			details = client
		}

		enricher := gallery.NewEnricher(details, scraper, gallery.EnricherOptions{}, tel)
		variants := enricher.Variants(cmd.Context(), args[0], baseImage)

		t := newTable(table.Row{"#", "Label", "Url"})
		for i, v := range variants {
			t.AppendRow(table.Row{i + 1, v.Label, v.Url})
		}
		t.Render()
		return nil
	},
}
