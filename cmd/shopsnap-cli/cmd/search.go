package cmd

import (
	"fmt"
	"os"
	"shopsnap-backend/internal/search"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	searchStart int
	searchPages int
	imagePath   string
)

func init() {
	searchCmd.Flags().IntVar(&searchStart, "start", 1, "Index of the first result.")
	searchCmd.Flags().IntVar(&searchPages, "pages", 1, "Amount of pages to load and merge.")
	searchCmd.Flags().StringVar(&imagePath, "image", "", "Search by the contents of an image file instead.")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Runs an image search and prints the results.",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		if imagePath != "" {
			if cfg.Google.VisionApiKey == "" {
				return fmt.Errorf("google.vision_api_key is not configured")
			}
			image, err := os.ReadFile(imagePath)
			if err != nil {
				return err
			}
			vision := search.NewVisionClient(search.VisionOptions{ApiKey: cfg.Google.VisionApiKey}, tel)
			labels, err := vision.Labels(cmd.Context(), image)
			if err != nil {
				return err
			}
			query = search.QueryFromLabels(labels, 0.7)
			fmt.Printf("query from image: %q\n", query)
		}
		if strings.TrimSpace(query) == "" {
			return fmt.Errorf("nothing to search for")
		}

		if cfg.Google.ApiKey == "" || cfg.Google.EngineId == "" {
			return fmt.Errorf("google.api_key and google.engine_id must be configured")
		}
		client := search.NewGoogleClient(search.GoogleOptions{
			ApiKey:   cfg.Google.ApiKey,
			EngineId: cfg.Google.EngineId,
		}, tel)

		var items []search.Item
		var total int64
		start := searchStart
		for i := 0; i < searchPages && start > 0; i++ {
			page, err := client.Search(cmd.Context(), query, start)
			if err != nil {
				return err
			}
			items = search.Merge(items, page.Items)
			total = page.Total
			start = page.NextStart
		}

		t := newTable(table.Row{"#", "Title", "Link", "Page"})
		for i, item := range items {
			t.AppendRow(table.Row{i + 1, item.Title, item.Link, item.ContextLink})
		}
		t.AppendFooter(table.Row{"", fmt.Sprintf("%d of %d", len(items), total)})
		t.Render()
		return nil
	},
}
