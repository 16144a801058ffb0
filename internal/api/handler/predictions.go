package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/mediaforge/mediaforge/internal/api/middleware"
	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/pkg/models"
)

// PredictionReader is the read side of the store used by the prediction
// endpoints.
type PredictionReader interface {
	GetPrediction(ctx context.Context, id string) (*models.Prediction, error)
	ListPredictions(ctx context.Context, filter store.PredictionFilter) ([]*models.Prediction, int, error)
	ListAssetsByPrediction(ctx context.Context, predictionID string) ([]*models.GeneratedAsset, error)
	GetAvatarVideoByPrediction(ctx context.Context, predictionID string) (*models.AvatarVideo, error)
	GetCinematographerVideoByRequest(ctx context.Context, requestID string) (*models.CinematographerVideo, error)
}

type predictionDetail struct {
	*models.Prediction
	Assets []*models.GeneratedAsset `json:"assets"`
	// Video is the placeholder row of avatar and cinematographer jobs.
	Video any `json:"video,omitempty"`
}

// NewListPredictionsHandler returns an http.HandlerFunc for GET /api/v1/predictions.
func NewListPredictionsHandler(st PredictionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		q := r.URL.Query()
		filter := store.PredictionFilter{UserID: userID, Status: q.Get("status")}
		if t := q.Get("tool"); t != "" {
			tool, ok := models.ParseToolType(t)
			if !ok {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown tool filter", nil)
				return
			}
			filter.Tool = tool
		}
		if filter.Status != "" && !validStatusFilter(filter.Status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown status filter", nil)
			return
		}
		page, limit, err := parsePage(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		filter.Page, filter.Limit = page, limit

		preds, total, err := st.ListPredictions(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list predictions", nil)
			return
		}
		if preds == nil {
			preds = []*models.Prediction{}
		}
		response.Collection(w, preds, pageMeta(page, limit, total))
	}
}

// NewGetPredictionHandler returns an http.HandlerFunc for
// GET /api/v1/predictions/{predictionID}. Other users' predictions are
// reported as not found.
func NewGetPredictionHandler(st PredictionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		id := chi.URLParam(r, "predictionID")

		pred, err := st.GetPrediction(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !ownedBy(pred, userID)) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Prediction not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load prediction", nil)
			return
		}

		assets, err := st.ListAssetsByPrediction(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load assets", nil)
			return
		}
		if assets == nil {
			assets = []*models.GeneratedAsset{}
		}
		detail := predictionDetail{Prediction: pred, Assets: assets}
		if detail.Video, err = placeholderFor(r.Context(), st, pred); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load video", nil)
			return
		}
		response.JSON(w, detail)
	}
}

// placeholderFor loads the video row created at submission time. Jobs without
// one yield nil.
func placeholderFor(ctx context.Context, st PredictionReader, pred *models.Prediction) (any, error) {
	switch pred.Tool {
	case models.ToolAvatar:
		v, err := st.GetAvatarVideoByPrediction(ctx, pred.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	case models.ToolCinematographer:
		v, err := st.GetCinematographerVideoByRequest(ctx, pred.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, nil
}

func ownedBy(p *models.Prediction, userID uuid.UUID) bool {
	return p.UserID != nil && *p.UserID == userID
}

func validAssetStatus(s string) bool {
	switch s {
	case models.AssetPending, models.AssetProcessing, models.AssetCompleted, models.AssetFailed:
		return true
	}
	return false
}

func validStatusFilter(s string) bool {
	switch s {
	case models.PredictionStarting, models.PredictionProcessing, models.PredictionSucceeded,
		models.PredictionFailed, models.PredictionCanceled:
		return true
	}
	return false
}

func parsePage(r *http.Request) (int, int, error) {
	page, limit := 1, 20
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return 0, 0, errors.New("limit must be between 1 and 100")
		}
		limit = n
	}
	return page, limit, nil
}

func pageMeta(page, limit, total int) response.PaginationMeta {
	return response.PaginationMeta{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasNext: page*limit < total,
	}
}
