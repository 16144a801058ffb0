package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInsufficientCredits = errors.New("insufficient credits")
var ErrInvalidTransition = errors.New("invalid prediction status transition")

// ErrForeignKey means a referenced row (usually the user) does not exist.
var ErrForeignKey = errors.New("referenced row does not exist")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	EnsureUser(ctx context.Context, id uuid.UUID, email string) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreatePrediction(ctx context.Context, p *models.Prediction) error
	GetPrediction(ctx context.Context, id string) (*models.Prediction, error)
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]*models.Prediction, int, error)
	ListPendingPredictions(ctx context.Context, provider string) ([]*models.Prediction, error)
	UpdatePrediction(ctx context.Context, id string, status string, opts ...PredictionUpdateOption) error

	CreateGeneratedAsset(ctx context.Context, asset *models.GeneratedAsset) (bool, error)
	ListAssetsByPrediction(ctx context.Context, predictionID string) ([]*models.GeneratedAsset, error)
	ListAssetsByUser(ctx context.Context, filter AssetFilter) ([]*models.GeneratedAsset, int, error)

	CreateAvatarVideo(ctx context.Context, v *models.AvatarVideo) error
	GetAvatarVideoByPrediction(ctx context.Context, predictionID string) (*models.AvatarVideo, error)
	CompleteAvatarVideo(ctx context.Context, predictionID string, videoURL string) error
	FailAvatarVideo(ctx context.Context, predictionID string, msg string) error
	ListAvatarVideos(ctx context.Context, filter VideoFilter) ([]*models.AvatarVideo, int, error)

	CreateCinematographerVideo(ctx context.Context, v *models.CinematographerVideo) error
	GetCinematographerVideoByRequest(ctx context.Context, requestID string) (*models.CinematographerVideo, error)
	CompleteCinematographerVideo(ctx context.Context, requestID string, videoURL string) error
	FailCinematographerVideo(ctx context.Context, requestID string, msg string) error
	ListCinematographerVideos(ctx context.Context, filter VideoFilter) ([]*models.CinematographerVideo, int, error)

	CreatePredictionMetrics(ctx context.Context, m *models.PredictionMetrics) error

	GetCreditBalance(ctx context.Context, userID uuid.UUID) (int, error)
	DeductCredits(ctx context.Context, userID uuid.UUID, amount int, operation, reference string) (int, error)
	AddCredits(ctx context.Context, userID uuid.UUID, amount int, operation, reference string) (int, error)

	UpsertWinningAd(ctx context.Context, ad *models.WinningAd) error
	ListWinningAds(ctx context.Context, filter AdFilter) ([]*models.WinningAd, int, error)
	UpsertOffer(ctx context.Context, offer *models.Offer) error
}

type PredictionFilter struct {
	UserID uuid.UUID
	Tool   models.ToolType
	Status string
	Page   int
	Limit  int
}

type AssetFilter struct {
	UserID uuid.UUID
	Tool   models.ToolType
	Page   int
	Limit  int
}

// VideoFilter selects a user's avatar or cinematographer placeholder rows.
type VideoFilter struct {
	UserID uuid.UUID
	Status string
	Page   int
	Limit  int
}

type AdFilter struct {
	Source string
	MinCTR float64
	Page   int
	Limit  int
}

// PredictionUpdateParams is the resolved set of optional fields for
// UpdatePrediction.
type PredictionUpdateParams struct {
	Output     []string
	Error      *string
	ErrorClass *models.ErrorClass
}

type PredictionUpdateOption func(*PredictionUpdateParams)

func WithOutput(urls []string) PredictionUpdateOption {
	return func(p *PredictionUpdateParams) {
		p.Output = urls
	}
}

func WithPredictionError(msg string, class models.ErrorClass) PredictionUpdateOption {
	return func(p *PredictionUpdateParams) {
		p.Error = &msg
		p.ErrorClass = &class
	}
}

// ApplyPredictionUpdateOptions resolves opts for Store implementations.
func ApplyPredictionUpdateOptions(opts ...PredictionUpdateOption) PredictionUpdateParams {
	var params PredictionUpdateParams
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

// normalizePage clamps pagination to sane bounds and returns limit and offset.
func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}
