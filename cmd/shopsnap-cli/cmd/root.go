package cmd

import (
	"fmt"
	"os"
	"shopsnap-backend/internal/components/chrono"
	"shopsnap-backend/internal/components/telemetry"
	"shopsnap-backend/internal/marketplace"
	"shopsnap-backend/pkg/configutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type Config struct {
	Marketplace struct {
		BaseUrl     string                  `json:"base_url"`
		Credentials marketplace.Credentials `json:"credentials"`
		TrackingId  string                  `json:"tracking_id"`
	} `json:"marketplace"`
	Google struct {
		ApiKey       string `json:"api_key"`
		EngineId     string `json:"engine_id"`
		VisionApiKey string `json:"vision_api_key"`
	} `json:"google"`
}

var (
	configPath string
	verbose    bool

	cfg Config
	tel telemetry.API = telemetry.SlogAPI{}
)

var rootCmd = &cobra.Command{
	Use:   "shopsnap-cli",
	Short: "shopsnap-cli pokes at the apis behind the shopsnap backend.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		var err error
		cfg, err = configutil.ReadConfig[Config](configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "Path to the config file.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
}

func marketplaceClient() (*marketplace.Client, error) {
	return marketplace.NewClient(marketplace.Options{
		BaseUrl:     cfg.Marketplace.BaseUrl,
		Credentials: cfg.Marketplace.Credentials,
	}, chrono.NewStandardTime(), tel)
}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(header)
	t.SetStyle(table.StyleRounded)
	return t
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
