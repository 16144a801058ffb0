// Package poller completes Hedra jobs, which have no webhook support, by
// polling their status and replaying terminal results through the
// application's own webhook endpoint.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/mediaforge/mediaforge/internal/provider"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/internal/webhook"
	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// UserAgent identifies the poller's webhook deliveries.
const UserAgent = "mediaforge-poller/1.0"

// StatusChecker reports the current state of one Hedra generation.
type StatusChecker interface {
	GetGenerationStatus(ctx context.Context, id string) (*provider.Prediction, error)
}

type Options struct {
	WebhookURL  string
	Token       string
	Interval    time.Duration
	JobDelay    time.Duration
	HTTPTimeout time.Duration
}

// CycleReport counts what one pass over the pending jobs did.
type CycleReport struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Updated   int `json:"updated"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

type Poller struct {
	store      store.Store
	hedra      StatusChecker
	client     *http.Client
	webhookURL string
	token      string
	interval   time.Duration
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func New(st store.Store, hedra StatusChecker, opts Options, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 5 * time.Minute
	}
	limit := rate.Inf
	if opts.JobDelay > 0 {
		limit = rate.Every(opts.JobDelay)
	}
	return &Poller{
		store:      st,
		hedra:      hedra,
		client:     &http.Client{Timeout: opts.HTTPTimeout},
		webhookURL: opts.WebhookURL,
		token:      opts.Token,
		interval:   opts.Interval,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With().Str("component", "poller").Logger(),
	}
}

// Run polls immediately and then on every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("hedra poller started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.runCycle(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("hedra poller stopped")
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error().Interface("panic", rec).Msg("poll cycle panicked")
		}
	}()

	report, err := p.Cycle(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("poll cycle failed")
		return
	}
	if report.Checked > 0 {
		p.logger.Info().
			Int("checked", report.Checked).
			Int("completed", report.Completed).
			Int("updated", report.Updated).
			Int("errors", report.Errors).
			Msg("poll cycle finished")
	}
}

// Cycle checks every pending Hedra job once, sequentially. A failure on one
// job is logged and counted; the remaining jobs are still checked.
func (p *Poller) Cycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	jobs, err := p.store.ListPendingPredictions(ctx, models.ProviderHedra)
	if err != nil {
		return report, fmt.Errorf("listing pending hedra jobs: %w", err)
	}
	defer metrics.PollerCycles.Inc()

	for _, job := range jobs {
		if err := p.limiter.Wait(ctx); err != nil {
			break
		}
		report.Checked++

		// A job already started is finished even if ctx is cancelled meanwhile.
		result, err := p.checkJob(context.WithoutCancel(ctx), job)
		if err != nil {
			report.Errors++
			metrics.PollerJobs.WithLabelValues(metrics.ResultError).Inc()
			p.logger.Warn().Err(err).Str("prediction_id", job.ID).Msg("polling hedra job")
			continue
		}
		metrics.PollerJobs.WithLabelValues(result).Inc()
		switch result {
		case resultCompleted:
			report.Completed++
		case resultUpdated:
			report.Updated++
		default:
			report.Pending++
		}
	}
	return report, nil
}

const (
	resultCompleted = "completed"
	resultUpdated   = "updated"
	resultPending   = "pending"
)

func (p *Poller) checkJob(ctx context.Context, job *models.Prediction) (string, error) {
	status, err := p.hedra.GetGenerationStatus(ctx, job.ID)
	if err != nil {
		return "", err
	}

	switch {
	case status.Status.IsTerminal():
		if err := p.deliver(ctx, p.payload(job, status)); err != nil {
			return "", err
		}
		return resultCompleted, nil
	case status.Status == provider.StatusProcessing && job.Status == models.PredictionStarting:
		if err := p.deliver(ctx, p.payload(job, status)); err != nil {
			return "", err
		}
		return resultUpdated, nil
	default:
		return resultPending, nil
	}
}

func (p *Poller) payload(job *models.Prediction, status *provider.Prediction) webhook.Payload {
	input := map[string]any{}
	if len(job.Input) > 0 {
		if err := json.Unmarshal(job.Input, &input); err != nil {
			p.logger.Debug().Err(err).Str("prediction_id", job.ID).Msg("stored input is not an object")
			input = map[string]any{}
		}
	}
	input["tool"] = string(job.Tool)
	if job.UserID != nil {
		input["user_id"] = job.UserID.String()
	}

	payload := webhook.Payload{
		ID:       job.ID,
		Status:   string(status.Status),
		Provider: models.ProviderHedra,
		Model:    job.Model,
		Input:    input,
	}
	if len(status.Output) > 0 {
		payload.Output = status.Output
	}
	if status.Error != "" {
		payload.Error = status.Error
	}
	return payload
}

// deliver posts payload to the webhook endpoint with the internal bearer token.
func (p *Poller) deliver(ctx context.Context, payload webhook.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
