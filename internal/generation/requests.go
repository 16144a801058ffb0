package generation

import (
	"encoding/json"

	"github.com/mediaforge/mediaforge/pkg/models"
)

// Credit cost per submission.
const (
	CostThumbnail       = 5
	CostFaceSwap        = 3
	CostMusic           = 10
	CostVideoSwap       = 25
	CostAvatar          = 20
	CostCinematographer = 30
)

// CreditCost returns the price of one submission for tool.
func CreditCost(tool models.ToolType) int {
	switch tool {
	case models.ToolThumbnail:
		return CostThumbnail
	case models.ToolFaceSwap:
		return CostFaceSwap
	case models.ToolMusic:
		return CostMusic
	case models.ToolVideoSwap:
		return CostVideoSwap
	case models.ToolAvatar:
		return CostAvatar
	case models.ToolCinematographer:
		return CostCinematographer
	default:
		return 0
	}
}

// Music engines.
const (
	EngineMiniMax     = "minimax"
	EngineStableAudio = "stable_audio"
)

type ThumbnailRequest struct {
	Prompt      string   `json:"prompt"       validate:"required,max=4000"`
	ImageInputs []string `json:"image_inputs" validate:"max=14,dive,url"`
	AspectRatio string   `json:"aspect_ratio" validate:"omitempty,oneof=1:1 16:9 9:16 4:3 3:4 21:9"`
	Resolution  string   `json:"resolution"   validate:"omitempty,oneof=1K 2K 4K"`
}

type FaceSwapRequest struct {
	InputImage string `json:"input_image" validate:"required,url"`
	SwapImage  string `json:"swap_image"  validate:"required,url"`
}

type MusicRequest struct {
	Engine       string `json:"engine"        validate:"omitempty,oneof=minimax stable_audio"`
	Prompt       string `json:"prompt"        validate:"required_if=Engine stable_audio,max=2000"`
	Lyrics       string `json:"lyrics"        validate:"required_unless=Engine stable_audio,max=3000"`
	SongFile     string `json:"song_file"     validate:"omitempty,url"`
	SecondsTotal int    `json:"seconds_total" validate:"omitempty,min=1,max=190"`
}

type VideoSwapRequest struct {
	Video      string `json:"video"      validate:"required,url"`
	Image      string `json:"image"      validate:"required,url"`
	Resolution string `json:"resolution" validate:"omitempty,oneof=480 720"`
}

type AvatarRequest struct {
	Script      string          `json:"script"       validate:"required,max=5000"`
	ImageURL    string          `json:"image_url"    validate:"required,url"`
	Voice       string          `json:"voice"        validate:"omitempty,max=32"`
	Speed       json.RawMessage `json:"speed"`
	Prompt      string          `json:"prompt"       validate:"max=1000"`
	AspectRatio string          `json:"aspect_ratio" validate:"omitempty,oneof=16:9 9:16 1:1"`
	Resolution  string          `json:"resolution"   validate:"omitempty,oneof=540p 720p"`
}

type CinematographerRequest struct {
	Prompt         string `json:"prompt"          validate:"required,max=2500"`
	ImageURL       string `json:"image_url"       validate:"omitempty,url"`
	Duration       int    `json:"duration"        validate:"omitempty,oneof=5 10"`
	AspectRatio    string `json:"aspect_ratio"    validate:"omitempty,oneof=16:9 9:16 1:1"`
	NegativePrompt string `json:"negative_prompt" validate:"max=1000"`
}

// Submission is returned once a job has been accepted by its provider.
type Submission struct {
	PredictionID string          `json:"prediction_id"`
	Tool         models.ToolType `json:"tool"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	Status       string          `json:"status"`
	CreditCost   int             `json:"credit_cost"`
	Balance      int             `json:"credit_balance"`
}
