package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var trackingId string

func init() {
	linkCmd.Flags().StringVar(&trackingId, "tracking-id", "", "Overrides the tracking id from the config.")
	rootCmd.AddCommand(linkCmd)
}

var linkCmd = &cobra.Command{
	Use:   "link <product url>",
	Short: "Generates the affiliate link for a product.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := trackingId
		if id == "" {
			id = cfg.Marketplace.TrackingId
		}
		if id == "" {
			return fmt.Errorf("no tracking id configured")
		}

		client, err := marketplaceClient()
		if err != nil {
			return err
		}
		link, err := client.AffiliateLink(cmd.Context(), args[0], id)
		if err != nil {
			return err
		}
		fmt.Println(link)
		return nil
	},
}
