package cmd

import (
	"fmt"
	"shopsnap-backend/internal/marketplace"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var shipTo string

func init() {
	productCmd.Flags().StringVar(&shipTo, "ship-to", "US", "Country the product should ship to.")
	rootCmd.AddCommand(productCmd)
}

var productCmd = &cobra.Command{
	Use:   "product <item id or url>",
	Short: "Prints the detail of a marketplace product.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemId := args[0]
		if id, ok := marketplace.ExtractItemId(itemId); ok {
			itemId = id
		}

		client, err := marketplaceClient()
		if err != nil {
			return err
		}
		detail, err := client.ProductDetail(cmd.Context(), itemId, marketplace.ProductDetailOptions{
			ShipToCountry: shipTo,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s)\n", detail.Title, detail.ItemId)
		t := newTable(table.Row{"Kind", "Name", "Image"})
		t.AppendRow(table.Row{"main", "", detail.OriginalImageUrl})
		for _, image := range detail.ImageList {
			t.AppendRow(table.Row{"image", "", image.ImageUrl})
		}
		for _, prop := range detail.Properties {
			t.AppendRow(table.Row{"property", fmt.Sprintf("%s: %s", prop.Name, prop.ValueName), prop.ImageUrl})
		}
		t.Render()
		return nil
	},
}
