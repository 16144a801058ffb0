package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/mediaforge/mediaforge/internal/api/middleware"
	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/rs/zerolog"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger     zerolog.Logger
	Auth       *mw.Auth
	RateLimit  *mw.RateLimit
	CronSecret string

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
	WebhookHandler http.HandlerFunc

	WinningAdsScrape  http.HandlerFunc
	FacebookAdsScrape http.HandlerFunc

	GenerateHandler http.HandlerFunc
	ListPredictions http.HandlerFunc
	GetPrediction   http.HandlerFunc
	ListAssets      http.HandlerFunc
	ListAvatars     http.HandlerFunc
	ListCinemas     http.HandlerFunc
	ListWinningAds  http.HandlerFunc
	CreditsHandler  http.HandlerFunc
	ImportOffers    http.HandlerFunc

	// StaticFiles serves the filesystem storage backend, when used.
	StaticFiles http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger(deps.Logger))
	r.Use(mw.Recovery(deps.Logger))

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.StaticFiles != nil {
		r.Mount("/static", http.StripPrefix("/static", deps.StaticFiles))
	}

	// Provider callbacks authenticate inside the handler
	r.Post("/api/webhooks/replicate-ai", orNotImplemented(deps.WebhookHandler))

	// Cron
	r.Group(func(r chi.Router) {
		r.Use(mw.BearerSecret(deps.CronSecret))

		r.Get("/api/cron/winning-ads-scrape", orNotImplemented(deps.WinningAdsScrape))
		r.Get("/api/cron/facebook-ads-scrape", orNotImplemented(deps.FacebookAdsScrape))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/generations/{tool}", orNotImplemented(deps.GenerateHandler))
		r.Get("/api/v1/predictions", orNotImplemented(deps.ListPredictions))
		r.Get("/api/v1/predictions/{predictionID}", orNotImplemented(deps.GetPrediction))
		r.Get("/api/v1/assets", orNotImplemented(deps.ListAssets))
		r.Get("/api/v1/avatar-videos", orNotImplemented(deps.ListAvatars))
		r.Get("/api/v1/cinematographer-videos", orNotImplemented(deps.ListCinemas))
		r.Get("/api/v1/winning-ads", orNotImplemented(deps.ListWinningAds))
		r.Get("/api/v1/credits", orNotImplemented(deps.CreditsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Post("/api/v1/admin/offers/import", orNotImplemented(deps.ImportOffers))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
