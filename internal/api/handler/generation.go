package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/mediaforge/mediaforge/internal/api/middleware"
	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/mediaforge/mediaforge/internal/generation"
	"github.com/mediaforge/mediaforge/internal/provider"
	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/rs/zerolog"
)

const maxGenerationBody = 1 << 20

// Generator defines the interface the handler depends on.
type Generator interface {
	SubmitThumbnail(ctx context.Context, userID uuid.UUID, req generation.ThumbnailRequest) (*generation.Submission, error)
	SubmitFaceSwap(ctx context.Context, userID uuid.UUID, req generation.FaceSwapRequest) (*generation.Submission, error)
	SubmitMusic(ctx context.Context, userID uuid.UUID, req generation.MusicRequest) (*generation.Submission, error)
	SubmitVideoSwap(ctx context.Context, userID uuid.UUID, req generation.VideoSwapRequest) (*generation.Submission, error)
	SubmitAvatar(ctx context.Context, userID uuid.UUID, req generation.AvatarRequest) (*generation.Submission, error)
	SubmitCinematographer(ctx context.Context, userID uuid.UUID, req generation.CinematographerRequest) (*generation.Submission, error)
}

// NewGenerationHandler returns an http.HandlerFunc for POST /api/v1/generations/{tool}.
func NewGenerationHandler(svc Generator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		tool, ok := models.ParseToolType(chi.URLParam(r, "tool"))
		if !ok {
			response.Error(w, http.StatusNotFound, "UNKNOWN_TOOL", "Unknown generation tool", nil)
			return
		}

		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerationBody))
		ctx := r.Context()
		var (
			sub *generation.Submission
			err error
		)
		switch tool {
		case models.ToolThumbnail:
			var req generation.ThumbnailRequest
			if err = dec.Decode(&req); err == nil {
				sub, err = svc.SubmitThumbnail(ctx, userID, req)
			}
		case models.ToolFaceSwap:
			var req generation.FaceSwapRequest
			if err = dec.Decode(&req); err == nil {
				sub, err = svc.SubmitFaceSwap(ctx, userID, req)
			}
		case models.ToolMusic:
			var req generation.MusicRequest
			if err = dec.Decode(&req); err == nil {
				sub, err = svc.SubmitMusic(ctx, userID, req)
			}
		case models.ToolVideoSwap:
			var req generation.VideoSwapRequest
			if err = dec.Decode(&req); err == nil {
				sub, err = svc.SubmitVideoSwap(ctx, userID, req)
			}
		case models.ToolAvatar:
			var req generation.AvatarRequest
			if err = dec.Decode(&req); err == nil {
				sub, err = svc.SubmitAvatar(ctx, userID, req)
			}
		case models.ToolCinematographer:
			var req generation.CinematographerRequest
			if err = dec.Decode(&req); err == nil {
				sub, err = svc.SubmitCinematographer(ctx, userID, req)
			}
		}

		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var sizeErr *http.MaxBytesError
		switch {
		case err == nil:
			response.Submitted(w, sub, response.SubmissionMeta{
				CreditBalance: sub.Balance,
				StatusURL:     "/api/v1/predictions/" + url.PathEscape(sub.PredictionID),
			})
		case errors.Is(err, io.EOF):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body is required", nil)
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &sizeErr),
			errors.Is(err, io.ErrUnexpectedEOF):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		case errors.Is(err, generation.ErrInvalidRequest):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		case errors.Is(err, generation.ErrInsufficientCredits):
			response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
				"Not enough credits for this generation", map[string]int{"required": generation.CreditCost(tool)})
		case errors.Is(err, generation.ErrProviderUnavailable), errors.Is(err, provider.ErrNotConfigured):
			response.Error(w, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE",
				"This tool is not available right now", nil)
		case errors.Is(err, provider.ErrUpstream), errors.Is(err, provider.ErrUnreachable), errors.Is(err, provider.ErrTimeout):
			logger.Warn().Err(err).Str("tool", string(tool)).Msg("provider rejected generation")
			response.Error(w, http.StatusBadGateway, "PROVIDER_ERROR",
				"The generation provider rejected the request", nil)
		default:
			logger.Error().Err(err).Str("tool", string(tool)).Msg("generation failed")
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
		}
	}
}
