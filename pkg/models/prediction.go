package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Prediction statuses, shared by every provider once mapped.
const (
	PredictionStarting   = "starting"
	PredictionProcessing = "processing"
	PredictionSucceeded  = "succeeded"
	PredictionFailed     = "failed"
	PredictionCanceled   = "canceled"
)

// IsTerminalStatus reports whether a prediction in status s will not change again.
func IsTerminalStatus(s string) bool {
	return s == PredictionSucceeded || s == PredictionFailed || s == PredictionCanceled
}

// Provider identifiers stored on predictions.
const (
	ProviderReplicate = "replicate"
	ProviderFal       = "fal"
	ProviderHedra     = "hedra"
)

// ToolType identifies which dashboard tool a generation job belongs to.
type ToolType string

const (
	ToolThumbnail       ToolType = "thumbnail"
	ToolFaceSwap        ToolType = "face_swap"
	ToolMusic           ToolType = "music"
	ToolVideoSwap       ToolType = "video_swap"
	ToolAvatar          ToolType = "avatar"
	ToolCinematographer ToolType = "cinematographer"
	ToolUnknown         ToolType = "unknown"
)

// ParseToolType returns the tool for a known name.
func ParseToolType(s string) (ToolType, bool) {
	switch t := ToolType(s); t {
	case ToolThumbnail, ToolFaceSwap, ToolMusic, ToolVideoSwap, ToolAvatar, ToolCinematographer:
		return t, true
	}
	return ToolUnknown, false
}

// ErrorClass is a coarse bucket for provider failure messages.
type ErrorClass string

const (
	ErrorClassContentPolicy ErrorClass = "content_policy"
	ErrorClassTimeout       ErrorClass = "timeout"
	ErrorClassResourceLimit ErrorClass = "resource_limit"
	ErrorClassUnknown       ErrorClass = "unknown"
)

// Prediction is one asynchronous job submitted to a provider. ID is the
// provider's own opaque job id.
type Prediction struct {
	ID          string          `db:"id"           json:"id"`
	Provider    string          `db:"provider"     json:"provider"`
	UserID      *uuid.UUID      `db:"user_id"      json:"user_id,omitempty"`
	Tool        ToolType        `db:"tool"         json:"tool"`
	Model       string          `db:"model"        json:"model"`
	Input       json.RawMessage `db:"input"        json:"input"`
	Status      string          `db:"status"       json:"status"`
	Output      []string        `db:"output"       json:"output,omitempty"`
	Error       *string         `db:"error"        json:"error,omitempty"`
	ErrorClass  *ErrorClass     `db:"error_class"  json:"error_class,omitempty"`
	CreatedAt   time.Time       `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"   json:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// PredictionMetrics is the usage row written once a prediction reaches a
// terminal state.
type PredictionMetrics struct {
	PredictionID  string    `db:"prediction_id"        json:"prediction_id"`
	Tool          ToolType  `db:"tool"                 json:"tool"`
	Status        string    `db:"status"               json:"status"`
	PredictTime   *float64  `db:"predict_time_seconds" json:"predict_time_seconds,omitempty"`
	OutputsTotal  int       `db:"outputs_total"        json:"outputs_total"`
	OutputsStored int       `db:"outputs_stored"       json:"outputs_stored"`
	OutputsFailed int       `db:"outputs_failed"       json:"outputs_failed"`
	CreatedAt     time.Time `db:"created_at"           json:"created_at"`
}
