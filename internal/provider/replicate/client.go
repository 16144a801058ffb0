// Package replicate adapts the Replicate prediction API through replicate-go.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	replicatego "github.com/replicate/replicate-go"

	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/mediaforge/mediaforge/internal/provider"
)

const providerName = "replicate"

// Client creates and tracks Replicate predictions.
type Client struct {
	api          *replicatego.Client
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// Options configures a Client. BaseURL is only set in tests.
type Options struct {
	Token        string
	BaseURL      string
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// NewClient returns provider.ErrNotConfigured when no token is set.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotConfigured, providerName)
	}
	clientOpts := []replicatego.ClientOption{replicatego.WithToken(opts.Token)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, replicatego.WithBaseURL(opts.BaseURL))
	}
	api, err := replicatego.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create replicate client: %w", err)
	}
	return &Client{api: api, pollInterval: opts.PollInterval, waitTimeout: opts.WaitTimeout}, nil
}

// CreatePrediction starts a prediction on model. When webhookURL is set,
// Replicate calls it on start and on completion.
func (c *Client) CreatePrediction(ctx context.Context, model Model, input map[string]any, webhookURL string) (*provider.Prediction, error) {
	var webhook *replicatego.Webhook
	if webhookURL != "" {
		webhook = &replicatego.Webhook{
			URL: webhookURL,
			Events: []replicatego.WebhookEventType{
				replicatego.WebhookEventStart,
				replicatego.WebhookEventCompleted,
			},
		}
	}

	pred, err := c.api.CreatePredictionWithModel(ctx, model.Owner, model.Name, replicatego.PredictionInput(input), webhook, false)
	metrics.ObserveProviderRequest(providerName, "create", err)
	if err != nil {
		return nil, wrapError("create prediction", err)
	}
	return toPrediction(pred), nil
}

// GetPrediction polls one prediction by id.
func (c *Client) GetPrediction(ctx context.Context, id string) (*provider.Prediction, error) {
	pred, err := c.api.GetPrediction(ctx, id)
	metrics.ObserveProviderRequest(providerName, "get", err)
	if err != nil {
		return nil, wrapError("get prediction", err)
	}
	return toPrediction(pred), nil
}

// Cancel asks Replicate to stop a running prediction.
func (c *Client) Cancel(ctx context.Context, id string) error {
	_, err := c.api.CancelPrediction(ctx, id)
	metrics.ObserveProviderRequest(providerName, "cancel", err)
	if err != nil {
		return wrapError("cancel prediction", err)
	}
	return nil
}

// Wait polls the prediction until it is terminal or the wait timeout passes.
// A timed-out wait does not cancel the prediction.
func (c *Client) Wait(ctx context.Context, id string) (*provider.Prediction, error) {
	return provider.WaitForCompletion(ctx, func(ctx context.Context) (*provider.Prediction, error) {
		return c.GetPrediction(ctx, id)
	}, c.pollInterval, c.waitTimeout)
}

func toPrediction(p *replicatego.Prediction) *provider.Prediction {
	out := &provider.Prediction{
		ID:     p.ID,
		Status: provider.Status(p.Status),
		Output: provider.OutputURLs(p.Output),
	}
	if p.Error != nil {
		out.Error = fmt.Sprint(p.Error)
	}
	return out
}

func wrapError(op string, err error) error {
	var apiErr *replicatego.APIError
	if errors.As(err, &apiErr) {
		return &provider.StatusError{Op: "replicate " + op, Code: apiErr.Status, Body: apiErr.Detail}
	}
	return provider.ClassifyTransportError(fmt.Errorf("replicate %s: %w", op, err))
}
