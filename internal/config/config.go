package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the mediaforge server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Providers ProvidersConfig
	Poller    PollerConfig
	Webhook   WebhookConfig
	Auth      AuthConfig
	Cron      CronConfig
}

type ServerConfig struct {
	Port                int    `envconfig:"MEDIAFORGE_PORT" default:"8080"`
	Env                 string `envconfig:"MEDIAFORGE_ENV" default:"development"`
	PublicBaseURL       string `envconfig:"PUBLIC_BASE_URL"`
	RateLimit           int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	GenerationRateLimit int    `envconfig:"GENERATION_RATE_LIMIT_PER_MINUTE" default:"10"`
}

type DatabaseConfig struct {
	URL             string        `envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `envconfig:"DATABASE_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"5m"`
}

type RedisConfig struct {
	URL string `envconfig:"REDIS_URL"`
}

type StorageConfig struct {
	Backend       string `envconfig:"STORAGE_BACKEND" default:"filesystem"`
	GCSBucket     string `envconfig:"GCS_BUCKET"`
	CDNBaseURL    string `envconfig:"STORAGE_CDN_BASE_URL"`
	LocalPath     string `envconfig:"STORAGE_LOCAL_PATH" default:"./storage"`
	LocalBaseURL  string `envconfig:"STORAGE_LOCAL_BASE_URL" default:"http://localhost:8080/static"`
	MaxDownloadMB int64  `envconfig:"STORAGE_MAX_DOWNLOAD_MB" default:"512"`
	// AllowPrivateDownloads lets output downloads reach loopback and private
	// addresses. Local development only.
	AllowPrivateDownloads bool `envconfig:"STORAGE_ALLOW_PRIVATE_DOWNLOADS" default:"false"`
}

type ProvidersConfig struct {
	ReplicateToken string        `envconfig:"REPLICATE_API_TOKEN"`
	FalKey         string        `envconfig:"FAL_KEY"`
	FalBaseURL     string        `envconfig:"FAL_BASE_URL" default:"https://queue.fal.run"`
	HedraAPIKey    string        `envconfig:"HEDRA_API_KEY"`
	HedraBaseURL   string        `envconfig:"HEDRA_BASE_URL" default:"https://api.hedra.com/web-app/public"`
	OpenAIAPIKey   string        `envconfig:"OPENAI_API_KEY"`
	OpenAITTSModel string        `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`
	ApifyToken     string        `envconfig:"APIFY_API_TOKEN"`
	ApifyBaseURL   string        `envconfig:"APIFY_BASE_URL" default:"https://api.apify.com/v2"`
	RequestTimeout time.Duration `envconfig:"PROVIDER_REQUEST_TIMEOUT" default:"60s"`
	WaitTimeout    time.Duration `envconfig:"PROVIDER_WAIT_TIMEOUT" default:"10m"`
	PollInterval   time.Duration `envconfig:"PROVIDER_POLL_INTERVAL" default:"5s"`
}

type PollerConfig struct {
	Enabled  bool          `envconfig:"POLLER_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"POLLER_INTERVAL" default:"30s"`
	JobDelay time.Duration `envconfig:"POLLER_JOB_DELAY" default:"1s"`
}

type WebhookConfig struct {
	SigningSecret string        `envconfig:"WEBHOOK_SIGNING_SECRET"`
	LockTTL       time.Duration `envconfig:"WEBHOOK_LOCK_TTL" default:"2m"`
}

type AuthConfig struct {
	SupabaseJWTSecret string `envconfig:"SUPABASE_JWT_SECRET"`
}

type CronConfig struct {
	SecretToken        string `envconfig:"CRON_SECRET_TOKEN"`
	WinningAdsActor    string `envconfig:"APIFY_WINNING_ADS_ACTOR" default:"clockworks~tiktok-creative-center-top-ads"`
	FacebookAdsActor   string `envconfig:"APIFY_FACEBOOK_ADS_ACTOR" default:"apify~facebook-ads-scraper"`
	ScrapeMaxItems     int    `envconfig:"SCRAPE_MAX_ITEMS" default:"100"`
}

var validStorageBackends = map[string]bool{
	"gcs":        true,
	"filesystem": true,
}

// Load reads configuration from the environment (and .env, when present) and
// returns a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Server.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Server.PublicBaseURL, "http://") && !strings.HasPrefix(c.Server.PublicBaseURL, "https://") {
		return fmt.Errorf("PUBLIC_BASE_URL must start with http:// or https://, got %q", c.Server.PublicBaseURL)
	}
	c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")

	if !validStorageBackends[c.Storage.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of gcs, filesystem; got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND is gcs")
	}

	if c.Cron.SecretToken == "" {
		return fmt.Errorf("CRON_SECRET_TOKEN is required")
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("POLLER_INTERVAL must be positive, got %s", c.Poller.Interval)
	}
	if c.Poller.JobDelay < 0 {
		return fmt.Errorf("POLLER_JOB_DELAY must not be negative, got %s", c.Poller.JobDelay)
	}

	return nil
}

// WebhookURL is the absolute URL providers call back on.
func (c *Config) WebhookURL() string {
	return c.Server.PublicBaseURL + "/api/webhooks/replicate-ai"
}
