// Package webhook turns provider callbacks into database state: it decides
// which tool a job belongs to, re-hosts succeeded outputs in object storage
// and records failures with a coarse error class.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/cache"
	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/mediaforge/mediaforge/internal/provider"
	"github.com/mediaforge/mediaforge/internal/storage"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrBusy means another delivery for the same prediction held the lock
	// for longer than the wait budget.
	ErrBusy = errors.New("prediction is being processed by another delivery")
)

const (
	lockRetryInterval = 100 * time.Millisecond
	statusCacheTTL    = 30 * time.Minute
	anonymousUser     = "anonymous"
)

// Fetcher downloads a provider output URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

type Options struct {
	LockTTL  time.Duration
	LockWait time.Duration
}

// Reconciler applies provider callbacks. It is safe for concurrent use;
// deliveries for the same prediction are serialised through a cache lock.
type Reconciler struct {
	store    store.Store
	cache    cache.Cache
	objects  storage.ObjectStore
	fetcher  Fetcher
	logger   zerolog.Logger
	lockTTL  time.Duration
	lockWait time.Duration
}

func NewReconciler(st store.Store, ca cache.Cache, objects storage.ObjectStore, fetcher Fetcher, logger zerolog.Logger, opts Options) *Reconciler {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Second
	}
	return &Reconciler{
		store:    st,
		cache:    ca,
		objects:  objects,
		fetcher:  fetcher,
		logger:   logger.With().Str("component", "webhook").Logger(),
		lockTTL:  opts.LockTTL,
		lockWait: opts.LockWait,
	}
}

// Apply records one delivery. Deliveries for predictions that are already
// terminal are acknowledged with Duplicate set and change nothing.
func (r *Reconciler) Apply(ctx context.Context, p Payload) (Summary, error) {
	if err := p.validate(); err != nil {
		return Summary{}, err
	}

	if status, ok := r.cachedTerminal(ctx, p.ID); ok {
		tool := Classify(p.Input)
		metrics.WebhookDeliveries.WithLabelValues(string(tool), "duplicate").Inc()
		r.logger.Info().Str("prediction_id", p.ID).Str("stored_status", status).Msg("duplicate delivery ignored")
		return Summary{PredictionID: p.ID, Tool: tool, Status: status, Duplicate: true}, nil
	}

	lockKey := cache.PredictionLockKey(p.ID)
	token, err := r.acquire(ctx, lockKey)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := r.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			r.logger.Warn().Err(err).Str("prediction_id", p.ID).Msg("releasing prediction lock")
		}
	}()

	pred, err := r.loadOrCreate(ctx, p)
	if err != nil {
		return Summary{}, err
	}

	tool := pred.Tool
	if tool == "" || tool == models.ToolUnknown {
		tool = Classify(p.Input)
	}
	summary := Summary{PredictionID: p.ID, Tool: tool, Status: p.Status}
	log := r.logger.With().Str("prediction_id", p.ID).Str("tool", string(tool)).Str("status", p.Status).Logger()

	if models.IsTerminalStatus(pred.Status) {
		summary.Status = pred.Status
		summary.Duplicate = true
		metrics.WebhookDeliveries.WithLabelValues(string(tool), "duplicate").Inc()
		log.Info().Str("stored_status", pred.Status).Msg("duplicate delivery ignored")
		return summary, nil
	}

	switch p.Status {
	case models.PredictionSucceeded:
		err = r.applySucceeded(ctx, pred, tool, p, &summary, log)
	case models.PredictionFailed, models.PredictionCanceled:
		err = r.applyFailed(ctx, pred, tool, p, log)
	default:
		err = r.applyProgress(ctx, pred, p.Status, log)
	}
	if errors.Is(err, store.ErrInvalidTransition) && models.IsTerminalStatus(p.Status) {
		summary.Duplicate = true
		err = nil
	}
	if err != nil {
		return Summary{}, err
	}

	metrics.WebhookDeliveries.WithLabelValues(string(tool), p.Status).Inc()
	if !summary.Duplicate {
		if err := r.cache.SetPredictionStatus(ctx, p.ID, p.Status, statusCacheTTL); err != nil {
			log.Warn().Err(err).Msg("caching prediction status")
		}
	}
	log.Info().Int("stored", summary.Stored).Int("failed", summary.Failed).Msg("webhook applied")
	return summary, nil
}

// cachedTerminal reports a terminal status recorded by an earlier delivery.
// Cache errors fall through to the database path.
func (r *Reconciler) cachedTerminal(ctx context.Context, id string) (string, bool) {
	status, ok, err := r.cache.GetPredictionStatus(ctx, id)
	if err != nil {
		r.logger.Warn().Err(err).Str("prediction_id", id).Msg("reading cached prediction status")
		return "", false
	}
	return status, ok && models.IsTerminalStatus(status)
}

func (r *Reconciler) acquire(ctx context.Context, key string) (string, error) {
	deadline := time.Now().Add(r.lockWait)
	for {
		token, ok, err := r.cache.AcquireLock(ctx, key, r.lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring prediction lock: %w", err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrBusy
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// loadOrCreate returns the stored prediction, recording jobs we did not
// submit ourselves so their results are not lost.
func (r *Reconciler) loadOrCreate(ctx context.Context, p Payload) (*models.Prediction, error) {
	pred, err := r.store.GetPrediction(ctx, p.ID)
	if err == nil {
		return pred, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading prediction: %w", err)
	}

	input, err := encodeInput(p.Input)
	if err != nil {
		return nil, err
	}
	providerName := p.Provider
	if providerName == "" {
		providerName = models.ProviderReplicate
	}
	pred = &models.Prediction{
		ID:       p.ID,
		Provider: providerName,
		UserID:   p.userID(),
		Tool:     Classify(p.Input),
		Model:    p.Model,
		Input:    input,
		Status:   models.PredictionStarting,
	}
	err = r.store.CreatePrediction(ctx, pred)
	if errors.Is(err, store.ErrForeignKey) && pred.UserID != nil {
		r.logger.Warn().Str("prediction_id", p.ID).Str("user_id", pred.UserID.String()).
			Msg("webhook names an unknown user, recording prediction without owner")
		pred.UserID = nil
		err = r.store.CreatePrediction(ctx, pred)
	}
	if err != nil {
		return nil, fmt.Errorf("recording unknown prediction: %w", err)
	}
	r.logger.Info().Str("prediction_id", p.ID).Str("tool", string(pred.Tool)).Msg("recorded prediction from webhook")
	return pred, nil
}

func (r *Reconciler) applyProgress(ctx context.Context, pred *models.Prediction, status string, log zerolog.Logger) error {
	err := r.store.UpdatePrediction(ctx, pred.ID, status)
	if errors.Is(err, store.ErrInvalidTransition) {
		log.Debug().Str("stored_status", pred.Status).Msg("stale progress delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("updating prediction: %w", err)
	}
	return nil
}

func (r *Reconciler) applySucceeded(ctx context.Context, pred *models.Prediction, tool models.ToolType, p Payload, summary *Summary, log zerolog.Logger) error {
	sources := provider.OutputURLs(p.Output)
	hosted := make([]string, 0, len(sources))

	for idx, src := range sources {
		asset, err := r.rehost(ctx, pred, tool, idx, src, p.prompt())
		if err != nil {
			summary.Failed++
			metrics.WebhookOutputs.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Int("variation", idx).Str("source_url", src).Msg("output variation skipped")
			hosted = append(hosted, src)
			continue
		}
		summary.Stored++
		metrics.WebhookOutputs.WithLabelValues("stored").Inc()
		hosted = append(hosted, asset.PublicURL)
	}

	switch tool {
	case models.ToolAvatar:
		r.finishPlaceholder(ctx, log, "avatar video", hosted, func(url string) error {
			return r.store.CompleteAvatarVideo(ctx, pred.ID, url)
		}, func(msg string) error {
			return r.store.FailAvatarVideo(ctx, pred.ID, msg)
		})
	case models.ToolCinematographer:
		r.finishPlaceholder(ctx, log, "cinematographer video", hosted, func(url string) error {
			return r.store.CompleteCinematographerVideo(ctx, pred.ID, url)
		}, func(msg string) error {
			return r.store.FailCinematographerVideo(ctx, pred.ID, msg)
		})
	}

	if err := r.store.UpdatePrediction(ctx, pred.ID, models.PredictionSucceeded, store.WithOutput(hosted)); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("marking prediction succeeded: %w", err)
	}

	r.writeMetrics(ctx, log, &models.PredictionMetrics{
		PredictionID:  pred.ID,
		Tool:          tool,
		Status:        models.PredictionSucceeded,
		PredictTime:   predictTime(p),
		OutputsTotal:  len(sources),
		OutputsStored: summary.Stored,
		OutputsFailed: summary.Failed,
	})
	return nil
}

// rehost copies one output into object storage. Avatar and cinematographer
// outputs are tracked on their placeholder rows instead of generated_assets.
func (r *Reconciler) rehost(ctx context.Context, pred *models.Prediction, tool models.ToolType, idx int, src string, prompt *string) (*models.GeneratedAsset, error) {
	data, contentType, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("downloading output: %w", err)
	}

	user := anonymousUser
	if pred.UserID != nil {
		user = pred.UserID.String()
	}
	key, err := storage.NormalizeKey(fmt.Sprintf("%s/%s/%s-%d", tool, user, keySegment(pred.ID), idx), contentType)
	if err != nil {
		return nil, fmt.Errorf("storage key: %w", err)
	}

	publicURL, err := r.objects.Upload(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("uploading output: %w", err)
	}

	asset := &models.GeneratedAsset{
		PredictionID:   pred.ID,
		UserID:         pred.UserID,
		Tool:           tool,
		VariationIndex: idx,
		StorageKey:     key,
		PublicURL:      publicURL,
		ContentType:    contentType,
		SourceURL:      src,
		Prompt:         prompt,
	}
	if tool == models.ToolAvatar || tool == models.ToolCinematographer {
		return asset, nil
	}
	if _, err := r.store.CreateGeneratedAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("recording asset: %w", err)
	}
	return asset, nil
}

// keySegment keeps a provider id inside its own path segment.
func keySegment(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(id)
}

func (r *Reconciler) finishPlaceholder(ctx context.Context, log zerolog.Logger, what string, hosted []string, complete func(string) error, fail func(string) error) {
	var err error
	if len(hosted) > 0 {
		err = complete(hosted[0])
	} else {
		err = fail("provider returned no output")
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Debug().Msgf("no open %s placeholder", what)
	case err != nil:
		log.Error().Err(err).Msgf("updating %s", what)
	}
}

func (r *Reconciler) applyFailed(ctx context.Context, pred *models.Prediction, tool models.ToolType, p Payload, log zerolog.Logger) error {
	msg := p.ErrorMessage()
	if msg == "" {
		msg = "prediction " + p.Status
	}
	class := ClassifyError(msg)

	var placeholderErr error
	switch tool {
	case models.ToolAvatar:
		placeholderErr = r.store.FailAvatarVideo(ctx, pred.ID, msg)
	case models.ToolCinematographer:
		placeholderErr = r.store.FailCinematographerVideo(ctx, pred.ID, msg)
	}
	if placeholderErr != nil && !errors.Is(placeholderErr, store.ErrNotFound) {
		log.Error().Err(placeholderErr).Msg("failing placeholder row")
	}

	if err := r.store.UpdatePrediction(ctx, pred.ID, p.Status, store.WithPredictionError(msg, class)); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("marking prediction %s: %w", p.Status, err)
	}
	log.Info().Str("error_class", string(class)).Str("error", msg).Msg("prediction did not succeed")

	r.writeMetrics(ctx, log, &models.PredictionMetrics{
		PredictionID: pred.ID,
		Tool:         tool,
		Status:       p.Status,
		PredictTime:  predictTime(p),
	})
	return nil
}

func (r *Reconciler) writeMetrics(ctx context.Context, log zerolog.Logger, m *models.PredictionMetrics) {
	if err := r.store.CreatePredictionMetrics(ctx, m); err != nil {
		log.Error().Err(err).Msg("writing prediction metrics")
	}
}

func predictTime(p Payload) *float64 {
	if p.Metrics == nil {
		return nil
	}
	return p.Metrics.PredictTime
}
