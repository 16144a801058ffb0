package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset statuses for placeholder rows created at submission time.
const (
	AssetPending    = "pending"
	AssetProcessing = "processing"
	AssetCompleted  = "completed"
	AssetFailed     = "failed"
)

// GeneratedAsset is one re-hosted output variation of a prediction.
type GeneratedAsset struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	PredictionID   string     `db:"prediction_id"   json:"prediction_id"`
	UserID         *uuid.UUID `db:"user_id"         json:"user_id,omitempty"`
	Tool           ToolType   `db:"tool"            json:"tool"`
	VariationIndex int        `db:"variation_index" json:"variation_index"`
	StorageKey     string     `db:"storage_key"     json:"storage_key"`
	PublicURL      string     `db:"public_url"      json:"public_url"`
	ContentType    string     `db:"content_type"    json:"content_type"`
	SourceURL      string     `db:"source_url"      json:"source_url"`
	Prompt         *string    `db:"prompt"          json:"prompt,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
}

// AvatarVideo is the talking-avatar asset. The row exists from submission and
// is completed by the Hedra poller through the webhook.
type AvatarVideo struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	UserID       uuid.UUID `db:"user_id"       json:"user_id"`
	PredictionID string    `db:"prediction_id" json:"prediction_id"`
	Script       string    `db:"script"        json:"script"`
	Voice        string    `db:"voice"         json:"voice"`
	AudioURL     *string   `db:"audio_url"     json:"audio_url,omitempty"`
	VideoURL     *string   `db:"video_url"     json:"video_url,omitempty"`
	Status       string    `db:"status"        json:"status"`
	CreditCost   int       `db:"credit_cost"   json:"credit_cost"`
	Error        *string   `db:"error"         json:"error,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// CinematographerVideo is a text/image-to-video asset rendered on fal.ai.
type CinematographerVideo struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	UserID     uuid.UUID `db:"user_id"     json:"user_id"`
	RequestID  string    `db:"request_id"  json:"request_id"`
	Prompt     string    `db:"prompt"      json:"prompt"`
	Model      string    `db:"model"       json:"model"`
	VideoURL   *string   `db:"video_url"   json:"video_url,omitempty"`
	Status     string    `db:"status"      json:"status"`
	CreditCost int       `db:"credit_cost" json:"credit_cost"`
	Error      *string   `db:"error"       json:"error,omitempty"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
