package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	mw "github.com/mediaforge/mediaforge/internal/api/middleware"
	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/mediaforge/mediaforge/internal/poller"
	"github.com/mediaforge/mediaforge/internal/provider/replicate"
	"github.com/mediaforge/mediaforge/internal/webhook"
	"github.com/rs/zerolog"
)

const (
	maxWebhookBody = 5 << 20
	busyRetryAfter = 5 * time.Second
)

// Applier applies one webhook delivery.
type Applier interface {
	Apply(ctx context.Context, p webhook.Payload) (webhook.Summary, error)
}

// WebhookAuth selects how deliveries are authenticated. InternalToken is the
// bearer token the Hedra poller sends. With a SigningSecret, every other
// delivery must carry a valid Replicate signature; without one the legacy
// user-agent and content-type check applies.
type WebhookAuth struct {
	SigningSecret string
	InternalToken string
}

// NewWebhookHandler returns an http.HandlerFunc for POST /api/webhooks/replicate-ai.
func NewWebhookHandler(applier Applier, auth WebhookAuth, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read body", nil)
			return
		}

		if !auth.authentic(r, body, logger) {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Unauthorized webhook", nil)
			return
		}

		var payload webhook.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		payload.MergeHints(map[string]string{
			"tool":    r.URL.Query().Get("tool"),
			"user_id": r.URL.Query().Get("user_id"),
		})

		summary, err := applier.Apply(r.Context(), payload)
		if err != nil {
			switch {
			case errors.Is(err, webhook.ErrInvalidPayload):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, webhook.ErrBusy):
				response.RetryLater(w, http.StatusConflict, "DELIVERY_IN_PROGRESS",
					"Another delivery for this prediction is being processed", busyRetryAfter)
			default:
				logger.Error().Err(err).Str("prediction_id", payload.ID).Msg("webhook processing failed")
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to process webhook", nil)
			}
			return
		}

		response.JSON(w, summary)
	}
}

func (a WebhookAuth) authentic(r *http.Request, body []byte, logger zerolog.Logger) bool {
	if mw.MatchesSecret(r, a.InternalToken) {
		return true
	}
	if a.SigningSecret != "" {
		ok, err := replicate.VerifyWebhook(r, body, a.SigningSecret)
		if err != nil {
			logger.Warn().Err(err).Msg("webhook signature check failed")
		}
		return ok && err == nil
	}

	ua := r.UserAgent()
	if !strings.Contains(ua, "Replicate") && !strings.HasPrefix(ua, poller.UserAgent) {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
