// Package response writes the JSON envelopes shared by every endpoint:
// {"data": ...}, {"data": [...], "meta": {...}} and {"error": {...}}.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type submissionEnvelope struct {
	Data any            `json:"data"`
	Meta SubmissionMeta `json:"meta"`
}

// SubmissionMeta tells the client what an accepted generation cost and where
// to follow it.
type SubmissionMeta struct {
	CreditBalance int    `json:"credit_balance"`
	StatusURL     string `json:"status_url"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

// Submitted acknowledges a generation job that finishes asynchronously. The
// status URL is also sent as Location.
func Submitted(w http.ResponseWriter, data any, meta SubmissionMeta) {
	if meta.StatusURL != "" {
		w.Header().Set("Location", meta.StatusURL)
	}
	writeJSON(w, http.StatusAccepted, submissionEnvelope{Data: data, Meta: meta})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// RetryLater writes an error the caller should retry after the given delay.
func RetryLater(w http.ResponseWriter, status int, code, message string, after time.Duration) {
	secs := int(after.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	Error(w, status, code, message, map[string]int{"retry_after_seconds": secs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Int("status", status).Msg("writing response body")
	}
}
