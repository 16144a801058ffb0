// Package fal adapts the fal.ai queue REST API.
package fal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/provider"
)

const providerName = "fal"

// fal queue statuses.
const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
)

type Options struct {
	Key            string
	BaseURL        string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	WaitTimeout    time.Duration
}

// Client submits jobs to the fal queue and tracks them by request id.
type Client struct {
	http         *provider.JSONClient
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewClient returns provider.ErrNotConfigured when no key is set.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Key) == "" {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotConfigured, providerName)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Key "+opts.Key)
	return &Client{
		http:         provider.NewJSONClient(providerName, strings.TrimRight(opts.BaseURL, "/"), headers, opts.RequestTimeout),
		pollInterval: opts.PollInterval,
		waitTimeout:  opts.WaitTimeout,
	}, nil
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Submit queues input on model and returns the request id. fal calls
// webhookURL when the request finishes, if one is given.
func (c *Client) Submit(ctx context.Context, model string, input map[string]any, webhookURL string) (string, error) {
	path := "/" + model
	if webhookURL != "" {
		path += "?fal_webhook=" + url.QueryEscape(webhookURL)
	}
	var resp submitResponse
	if err := c.http.Do(ctx, "submit", http.MethodPost, path, input, &resp); err != nil {
		return "", err
	}
	if resp.RequestID == "" {
		return "", fmt.Errorf("%w: fal submit returned no request_id", provider.ErrUpstream)
	}
	return resp.RequestID, nil
}

// Status returns the queue status of a request mapped onto provider.Status.
// A completed request reports StatusSucceeded; failures surface from Result.
func (c *Client) Status(ctx context.Context, model, requestID string) (provider.Status, string, error) {
	var resp statusResponse
	path := fmt.Sprintf("/%s/requests/%s/status", appID(model), url.PathEscape(requestID))
	if err := c.http.Do(ctx, "status", http.MethodGet, path, nil, &resp); err != nil {
		return "", "", err
	}
	return mapStatus(resp.Status), resp.Error, nil
}

// Result fetches the output of a completed request.
func (c *Client) Result(ctx context.Context, model, requestID string) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/%s/requests/%s", appID(model), url.PathEscape(requestID))
	if err := c.http.Do(ctx, "result", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get combines Status and, once completed, Result into a provider.Prediction.
// A result the provider rejects marks the prediction failed.
func (c *Client) Get(ctx context.Context, model, requestID string) (*provider.Prediction, error) {
	status, msg, err := c.Status(ctx, model, requestID)
	if err != nil {
		return nil, err
	}
	p := &provider.Prediction{ID: requestID, Status: status, Error: msg}
	if status != provider.StatusSucceeded {
		return p, nil
	}

	out, err := c.Result(ctx, model, requestID)
	if errors.Is(err, provider.ErrUpstream) && !provider.IsTransient(err) {
		p.Status = provider.StatusFailed
		p.Error = err.Error()
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.Output = provider.OutputURLs(out)
	return p, nil
}

// Wait polls until the request is terminal or the wait timeout passes.
func (c *Client) Wait(ctx context.Context, model, requestID string) (*provider.Prediction, error) {
	return provider.WaitForCompletion(ctx, func(ctx context.Context) (*provider.Prediction, error) {
		return c.Get(ctx, model, requestID)
	}, c.pollInterval, c.waitTimeout)
}

func mapStatus(s string) provider.Status {
	switch strings.ToUpper(s) {
	case statusInQueue:
		return provider.StatusStarting
	case statusInProgress:
		return provider.StatusProcessing
	case statusCompleted:
		return provider.StatusSucceeded
	case "FAILED", "ERROR":
		return provider.StatusFailed
	case "CANCELLED", "CANCELED":
		return provider.StatusCanceled
	default:
		return provider.StatusProcessing
	}
}

// appID strips a model path down to "owner/app", which is where the queue
// serves status and result endpoints.
func appID(model string) string {
	parts := strings.SplitN(strings.Trim(model, "/"), "/", 3)
	if len(parts) < 2 {
		return strings.Trim(model, "/")
	}
	return parts[0] + "/" + parts[1]
}
