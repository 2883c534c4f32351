package main

import (
	"context"
	"shopsnap-backend/internal/components/chrono"
	"shopsnap-backend/internal/components/telemetry"
	"shopsnap-backend/internal/imagecache"
	"shopsnap-backend/internal/marketplace"
)

const (
	report_jobs_token_warmup   = "jobs.token-warmup"
	report_jobs_cache_eviction = "jobs.cache-eviction"
)

// scheduleJobs keeps the marketplace token fresh so that requests rarely wait on a
// refresh and prunes expired scrape results.
func scheduleJobs(ctx context.Context, cron chrono.CronAPI, client *marketplace.Client, images imagecache.Cache, tel telemetry.API) error {
	tel = telemetry.NewScopedAPI("server", tel)

	err := cron.Cron("@every 1m", func() {
		_, err := client.Token(ctx)
		if err != nil {
			tel.ReportWarning(report_jobs_token_warmup, err)
		}
	})
	if err != nil {
		return err
	}

	return cron.Cron("@every 30m", func() {
		count, err := images.DeleteExpired(ctx)
		if err != nil {
			tel.ReportBroken(report_jobs_cache_eviction, err)
			return
		}
		tel.ReportCount(report_jobs_cache_eviction, count)
	})
}
