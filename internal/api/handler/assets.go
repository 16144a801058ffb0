package handler

import (
	"context"
	"net/http"

	mw "github.com/mediaforge/mediaforge/internal/api/middleware"
	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/pkg/models"
)

// AssetReader lists a user's rehosted files and video placeholder rows.
type AssetReader interface {
	ListAssetsByUser(ctx context.Context, filter store.AssetFilter) ([]*models.GeneratedAsset, int, error)
	ListAvatarVideos(ctx context.Context, filter store.VideoFilter) ([]*models.AvatarVideo, int, error)
	ListCinematographerVideos(ctx context.Context, filter store.VideoFilter) ([]*models.CinematographerVideo, int, error)
}

// NewListAssetsHandler returns an http.HandlerFunc for GET /api/v1/assets.
func NewListAssetsHandler(st AssetReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		filter := store.AssetFilter{UserID: userID}
		if t := r.URL.Query().Get("tool"); t != "" {
			tool, ok := models.ParseToolType(t)
			if !ok {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown tool filter", nil)
				return
			}
			filter.Tool = tool
		}
		page, limit, err := parsePage(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		filter.Page, filter.Limit = page, limit

		assets, total, err := st.ListAssetsByUser(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list assets", nil)
			return
		}
		if assets == nil {
			assets = []*models.GeneratedAsset{}
		}
		response.Collection(w, assets, pageMeta(page, limit, total))
	}
}

// NewListAvatarVideosHandler returns an http.HandlerFunc for
// GET /api/v1/avatar-videos.
func NewListAvatarVideosHandler(st AssetReader) http.HandlerFunc {
	return listVideos(st.ListAvatarVideos, "avatar videos")
}

// NewListCinematographerVideosHandler returns an http.HandlerFunc for
// GET /api/v1/cinematographer-videos.
func NewListCinematographerVideosHandler(st AssetReader) http.HandlerFunc {
	return listVideos(st.ListCinematographerVideos, "cinematographer videos")
}

func listVideos[T any](list func(context.Context, store.VideoFilter) ([]*T, int, error), what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		filter := store.VideoFilter{UserID: userID, Status: r.URL.Query().Get("status")}
		if filter.Status != "" && !validAssetStatus(filter.Status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown status filter", nil)
			return
		}
		page, limit, err := parsePage(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		filter.Page, filter.Limit = page, limit

		videos, total, err := list(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list "+what, nil)
			return
		}
		if videos == nil {
			videos = []*T{}
		}
		response.Collection(w, videos, pageMeta(page, limit, total))
	}
}
