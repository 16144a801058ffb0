package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/internal/ads"
	mw "github.com/mediaforge/mediaforge/internal/api/middleware"
	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/rs/zerolog"
)

const maxImportBody = 20 << 20

// AdLister lists scraped winning ads.
type AdLister interface {
	ListWinningAds(ctx context.Context, filter store.AdFilter) ([]*models.WinningAd, int, error)
}

// NewListWinningAdsHandler returns an http.HandlerFunc for GET /api/v1/winning-ads.
func NewListWinningAdsHandler(st AdLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.AdFilter{Source: q.Get("source")}
		switch filter.Source {
		case "", models.AdSourceTikTok, models.AdSourceFacebook:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "source must be tiktok or facebook", nil)
			return
		}
		if v := q.Get("min_ctr"); v != "" {
			ctr, err := strconv.ParseFloat(v, 64)
			if err != nil || ctr < 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "min_ctr must be a non-negative number", nil)
				return
			}
			filter.MinCTR = ctr
		}
		page, limit, err := parsePage(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		filter.Page, filter.Limit = page, limit

		list, total, err := st.ListWinningAds(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list winning ads", nil)
			return
		}
		if list == nil {
			list = []*models.WinningAd{}
		}
		response.Collection(w, list, pageMeta(page, limit, total))
	}
}

// NewImportOffersHandler returns an http.HandlerFunc for
// POST /api/v1/admin/offers/import. The body is a ClickBank CSV export.
func NewImportOffersHandler(st ads.OfferStore, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := ads.ImportClickbankCSV(r.Context(), st, http.MaxBytesReader(w, r.Body, maxImportBody))
		var parseErr *csv.ParseError
		var sizeErr *http.MaxBytesError
		switch {
		case err == nil:
		case errors.Is(err, ads.ErrMissingColumn), errors.Is(err, io.EOF),
			errors.As(err, &parseErr), errors.As(err, &sizeErr):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), report)
			return
		default:
			logger.Error().Err(err).Int("imported", report.Imported).Msg("offer import failed")
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store offers", report)
			return
		}
		logger.Info().Int("imported", report.Imported).Int("skipped", report.Skipped).Msg("offers imported")
		response.JSON(w, report)
	}
}

// CreditReader reads credit balances.
type CreditReader interface {
	GetCreditBalance(ctx context.Context, userID uuid.UUID) (int, error)
}

// NewCreditsHandler returns an http.HandlerFunc for GET /api/v1/credits.
func NewCreditsHandler(st CreditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		balance, err := st.GetCreditBalance(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load credits", nil)
			return
		}
		response.JSON(w, map[string]any{"user_id": userID, "balance": balance})
	}
}
