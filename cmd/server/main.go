// Package main is the entrypoint for the mediaforge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mediaforge/mediaforge/internal/ads"
	"github.com/mediaforge/mediaforge/internal/api"
	"github.com/mediaforge/mediaforge/internal/api/handler"
	mw "github.com/mediaforge/mediaforge/internal/api/middleware"
	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/mediaforge/mediaforge/internal/config"
	"github.com/mediaforge/mediaforge/internal/generation"
	"github.com/mediaforge/mediaforge/internal/logger"
	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/mediaforge/mediaforge/internal/poller"
	"github.com/mediaforge/mediaforge/internal/provider"
	"github.com/mediaforge/mediaforge/internal/provider/apify"
	"github.com/mediaforge/mediaforge/internal/provider/fal"
	"github.com/mediaforge/mediaforge/internal/provider/hedra"
	"github.com/mediaforge/mediaforge/internal/provider/openai"
	"github.com/mediaforge/mediaforge/internal/provider/replicate"
	"github.com/mediaforge/mediaforge/internal/storage"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/internal/webhook"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lg := logger.New(cfg.Server.Env)
	log.Logger = lg
	lg.Info().Str("env", cfg.Server.Env).Str("storage", cfg.Storage.Backend).Msg("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	lg.Info().Msg("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	lg.Info().Msg("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	lg.Info().Msg("redis connected")

	// 5. Object storage and downloads
	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object storage: %w", err)
	}
	if c, ok := objects.(io.Closer); ok {
		defer c.Close()
	}
	var downloadOpts []storage.DownloaderOption
	if cfg.Storage.AllowPrivateDownloads {
		downloadOpts = append(downloadOpts, storage.WithPrivateNetworks())
	}
	downloader := storage.NewDownloader(cfg.Providers.RequestTimeout, cfg.Storage.MaxDownloadMB<<20, downloadOpts...)

	// 6. Providers
	providers, err := newProviders(cfg, lg)
	if err != nil {
		return err
	}

	// 7. Services
	pgStore := store.NewPostgresStore(pool)
	reconciler := webhook.NewReconciler(pgStore, redisCache, objects, downloader, lg, webhook.Options{
		LockTTL: cfg.Webhook.LockTTL,
	})
	generator := generation.NewService(generation.Deps{
		Store:      pgStore,
		Replicate:  providers.replicate,
		TTS:        providers.tts,
		Hedra:      providers.hedra,
		Fal:        providers.fal,
		Objects:    objects,
		Fetcher:    downloader,
		Applier:    reconciler,
		WebhookURL: cfg.WebhookURL(),
		Logger:     lg,
	})
	if n, err := generator.ResumePending(ctx); err != nil {
		lg.Warn().Err(err).Msg("resuming pending video jobs")
	} else if n > 0 {
		lg.Info().Int("jobs", n).Msg("resumed pending video jobs")
	}

	// 8. Hedra poller
	pollerCtx, cancelPoller := context.WithCancel(ctx)
	defer cancelPoller()
	var wg sync.WaitGroup
	stopPoller := func() {
		cancelPoller()
		wg.Wait()
	}
	if cfg.Poller.Enabled && providers.hedraStatus != nil {
		p := poller.New(pgStore, providers.hedraStatus, poller.Options{
			WebhookURL:  cfg.WebhookURL(),
			Token:       cfg.Cron.SecretToken,
			Interval:    cfg.Poller.Interval,
			JobDelay:    cfg.Poller.JobDelay,
			HTTPTimeout: cfg.Providers.RequestTimeout,
		}, lg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(pollerCtx)
		}()
	}

	// 9. Build router with dependencies
	deps := api.Dependencies{
		Logger:     lg,
		Auth:       mw.NewAuth(pgStore, cfg.Auth.SupabaseJWTSecret, lg),
		RateLimit:  mw.NewRateLimit(redisCache, cfg.Server.RateLimit, mw.WithGenerationLimit(cfg.Server.GenerationRateLimit)),
		CronSecret: cfg.Cron.SecretToken,

		HealthHandler:  handler.NewHealthHandler(pgStore, redisCache),
		MetricsHandler: metrics.Handler(),
		WebhookHandler: handler.NewWebhookHandler(reconciler, handler.WebhookAuth{
			SigningSecret: cfg.Webhook.SigningSecret,
			InternalToken: cfg.Cron.SecretToken,
		}, lg),

		GenerateHandler: handler.NewGenerationHandler(generator, lg),
		ListPredictions: handler.NewListPredictionsHandler(pgStore),
		GetPrediction:   handler.NewGetPredictionHandler(pgStore),
		ListAssets:      handler.NewListAssetsHandler(pgStore),
		ListAvatars:     handler.NewListAvatarVideosHandler(pgStore),
		ListCinemas:     handler.NewListCinematographerVideosHandler(pgStore),
		ListWinningAds:  handler.NewListWinningAdsHandler(pgStore),
		CreditsHandler:  handler.NewCreditsHandler(pgStore),
		ImportOffers:    handler.NewImportOffersHandler(pgStore, lg),
	}
	if providers.apify != nil {
		scraper := ads.NewScraper(providers.apify, pgStore, ads.ScraperOptions{
			TikTokActor:   cfg.Cron.WinningAdsActor,
			FacebookActor: cfg.Cron.FacebookAdsActor,
			MaxItems:      cfg.Cron.ScrapeMaxItems,
		}, lg)
		deps.WinningAdsScrape = handler.NewCronScrapeHandler("winning-ads", scraper.ScrapeWinningAds, redisCache, lg)
		deps.FacebookAdsScrape = handler.NewCronScrapeHandler("facebook-ads", scraper.ScrapeFacebookAds, redisCache, lg)
	}
	if cfg.Storage.Backend == "filesystem" {
		deps.StaticFiles = http.FileServer(http.Dir(cfg.Storage.LocalPath))
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		stopPoller()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		lg.Info().Msg("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx, stopPoller, srv, generator, lg); err != nil {
		return err
	}

	lg.Info().Msg("server stopped gracefully")
	return nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the poller before the HTTP server because the poller
// delivers to this server's webhook route. Video waiters go last.
func shutdown(ctx context.Context, stopPoller func(), srv, waiters shutdowner, lg zerolog.Logger) error {
	stopPoller()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := waiters.Shutdown(ctx); err != nil {
		lg.Warn().Err(err).Msg("video waiters did not stop in time")
	}
	return nil
}

// providerSet holds the configured provider clients. A field stays a nil
// interface when its provider has no credentials.
type providerSet struct {
	replicate   generation.Predictor
	tts         generation.Synthesizer
	hedra       generation.AvatarRenderer
	hedraStatus poller.StatusChecker
	fal         generation.VideoQueue
	apify       ads.ActorRunner
}

func newProviders(cfg *config.Config, lg zerolog.Logger) (providerSet, error) {
	var set providerSet
	p := cfg.Providers

	rep, err := replicate.NewClient(replicate.Options{
		Token:        p.ReplicateToken,
		PollInterval: p.PollInterval,
		WaitTimeout:  p.WaitTimeout,
	})
	if err := optional(lg, "replicate", err); err != nil {
		return set, err
	}
	if rep != nil {
		set.replicate = rep
	}

	tts, err := openai.NewTTS(openai.Options{
		APIKey:  p.OpenAIAPIKey,
		Model:   p.OpenAITTSModel,
		Timeout: p.RequestTimeout,
	})
	if err := optional(lg, "openai", err); err != nil {
		return set, err
	}
	if tts != nil {
		set.tts = tts
	}

	hc, err := hedra.NewClient(hedra.Options{
		APIKey:         p.HedraAPIKey,
		BaseURL:        p.HedraBaseURL,
		RequestTimeout: p.RequestTimeout,
	})
	if err := optional(lg, "hedra", err); err != nil {
		return set, err
	}
	if hc != nil {
		set.hedra = hc
		set.hedraStatus = hc
	}

	fc, err := fal.NewClient(fal.Options{
		Key:            p.FalKey,
		BaseURL:        p.FalBaseURL,
		RequestTimeout: p.RequestTimeout,
		PollInterval:   p.PollInterval,
		WaitTimeout:    p.WaitTimeout,
	})
	if err := optional(lg, "fal", err); err != nil {
		return set, err
	}
	if fc != nil {
		set.fal = fc
	}

	ac, err := apify.NewClient(apify.Options{
		Token:   p.ApifyToken,
		BaseURL: p.ApifyBaseURL,
		Timeout: 5 * time.Minute,
	})
	if err := optional(lg, "apify", err); err != nil {
		return set, err
	}
	if ac != nil {
		set.apify = ac
	}

	return set, nil
}

// optional logs a provider left unconfigured and passes other errors on.
func optional(lg zerolog.Logger, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, provider.ErrNotConfigured):
		lg.Warn().Str("provider", name).Msg("provider not configured, its tools are disabled")
		return nil
	default:
		return fmt.Errorf("create %s client: %w", name, err)
	}
}
