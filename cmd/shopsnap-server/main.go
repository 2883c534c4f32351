package main

import (
	"context"
	"flag"
	"log/slog"
	"shopsnap-backend/internal/components/chrono"
	"shopsnap-backend/internal/components/telemetry"
	"shopsnap-backend/internal/gallery"
	"shopsnap-backend/internal/imagecache"
	"shopsnap-backend/internal/marketplace"
	"shopsnap-backend/internal/marketplace/redistoken"
	"shopsnap-backend/internal/scrapers/productpage"
	"shopsnap-backend/internal/search"
	"shopsnap-backend/internal/service"
	"shopsnap-backend/pkg/configutil"
	"shopsnap-backend/pkg/migrations"
	"shopsnap-backend/pkg/serviceutil"
	"time"

	"connectrpc.com/connect"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(*verbose)
	otel, err := telemetry.SetupFromEnv(ctx, "shopsnap-server")
	if err != nil {
		slog.Warn("otel disabled", "err", err.Error())
	} else {
		defer otel.Shutdown(context.Background())
	}
	tel := telemetry.SlogAPI{}
	err = telemetry.InstrumentPerfStats(ctx, 30*time.Second, tel)
	if err != nil {
		serviceutil.Fatal("instrument perf stats", err)
	}

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	clock := chrono.NewStandardTime()
	cron := chrono.NewStandardCron(tel)
	defer cron.Stop()

	var tokenCache marketplace.TokenCache
	if cfg.Marketplace.RedisUrl != "" {
		rdb, err := redistoken.Open(ctx, cfg.Marketplace.RedisUrl)
		if err != nil {
			serviceutil.Fatal("open redis", err)
		}
		defer rdb.Close()
		tokenCache = redistoken.NewCache(rdb, redistoken.DefaultKey, clock)
	}

	client, err := marketplace.NewClient(marketplace.Options{
		BaseUrl:           cfg.Marketplace.BaseUrl,
		Credentials:       cfg.Marketplace.Credentials,
		Timeout:           cfg.Marketplace.timeout(),
		RequestsPerSecond: cfg.Marketplace.RequestsPerSecond,
		Cache:             tokenCache,
	}, clock, tel)
	if err != nil {
		serviceutil.Fatal("init marketplace client", err)
	}

	db, err := migrations.OpenAndMigrateDB(imagecache.Schema, cfg.ImageCache.Database)
	if err != nil {
		serviceutil.Fatal("open image cache", err)
	}
	defer db.Close()
	images := imagecache.NewCache(db, clock, cfg.ImageCache.ttl())

	scraper := productpage.NewScraper(productpage.Options{Cache: images}, tel)
	enricher := gallery.NewEnricher(client, scraper, gallery.EnricherOptions{
		DetailOptions: marketplace.ProductDetailOptions{
			ShipToCountry:  cfg.Marketplace.ShipToCountry,
			TargetCurrency: cfg.Marketplace.TargetCurrency,
			TargetLanguage: cfg.Marketplace.TargetLanguage,
		},
	}, tel)

	apis := service.APIs{
		Search: search.NewGoogleClient(search.GoogleOptions{
			ApiKey:   cfg.Google.ApiKey,
			EngineId: cfg.Google.EngineId,
		}, tel),
		Details: client,
		Gallery: enricher,
		Links:   client,
	}
	if cfg.Google.VisionApiKey != "" {
		apis.Labels = search.NewVisionClient(search.VisionOptions{ApiKey: cfg.Google.VisionApiKey}, tel)
	}
	svc := service.NewService(apis, service.Options{
		TrackingId:    cfg.Marketplace.TrackingId,
		MinLabelScore: cfg.Google.MinLabelScore,
		RedirectHosts: cfg.Marketplace.RedirectHosts,
	}, tel)

	err = scheduleJobs(ctx, cron, client, images, tel)
	if err != nil {
		serviceutil.Fatal("schedule jobs", err)
	}

	port := cfg.Port
	if port == 0 {
		port = 8000
	}
	handler := svc.Handler(connect.WithInterceptors(serviceutil.NewConnectOtelInterceptor()))
	err = serviceutil.StartHttpServer(ctx, port, serviceutil.NewHandler("shopsnap-server", handler))
	if err != nil {
		serviceutil.Fatal("serve", err)
	}
}
