package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mediaforge/mediaforge/internal/ads"
	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/rs/zerolog"
)

const cronLockTTL = 15 * time.Minute

// ScrapeFunc runs one scrape; Scraper.ScrapeWinningAds and
// Scraper.ScrapeFacebookAds satisfy it.
type ScrapeFunc func(ctx context.Context) (ads.ScrapeReport, error)

// Locker serialises cron runs across instances.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// NewCronScrapeHandler runs scrape behind a per-job lock. Overlapping calls
// get 409.
func NewCronScrapeHandler(job string, scrape ScrapeFunc, locker Locker, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.With().Str("job", job).Logger()
		key := cache.CronLockKey(job)

		token, ok, err := locker.AcquireLock(r.Context(), key, cronLockTTL)
		if err != nil {
			log.Error().Err(err).Msg("acquiring cron lock")
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to acquire lock", nil)
			return
		}
		if !ok {
			response.RetryLater(w, http.StatusConflict, "JOB_RUNNING", "A run of this job is already in progress", cronLockTTL)
			return
		}
		defer func() {
			if err := locker.ReleaseLock(context.WithoutCancel(r.Context()), key, token); err != nil {
				log.Warn().Err(err).Msg("releasing cron lock")
			}
		}()

		report, err := scrape(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("scrape failed")
			response.Error(w, http.StatusBadGateway, "SCRAPE_FAILED", err.Error(), nil)
			return
		}
		log.Info().
			Int("fetched", report.Fetched).
			Int("saved", report.Saved).
			Int("skipped", report.Skipped).
			Int64("duration_ms", report.DurationMS).
			Msg("scrape completed")
		response.JSON(w, report)
	}
}
