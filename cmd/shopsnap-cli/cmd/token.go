package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetches a marketplace access token and prints its expiry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := marketplaceClient()
		if err != nil {
			return err
		}
		token, err := client.Token(cmd.Context())
		if err != nil {
			return err
		}

		prefix := token.AccessToken
		if len(prefix) > 8 {
			prefix = prefix[:8] + "..."
		}
		fmt.Printf("token: %s\nexpires: %s (in %s)\n",
			prefix,
			token.ExpiresAt.Format(time.RFC3339),
			time.Until(token.ExpiresAt).Round(time.Second),
		)
		return nil
	},
}
