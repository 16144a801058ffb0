// Package apify runs Apify actors synchronously and returns their dataset
// items. The cron scrapers use it to collect ad creatives.
package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/provider"
)

const providerName = "apify"

type Options struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	http  *provider.JSONClient
	token string
}

// NewClient returns provider.ErrNotConfigured when no token is set.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotConfigured, providerName)
	}
	return &Client{
		http:  provider.NewJSONClient(providerName, strings.TrimRight(opts.BaseURL, "/"), http.Header{}, opts.Timeout),
		token: opts.Token,
	}, nil
}

// RunActorSync runs actorID with input and waits for its dataset items.
// actorID is "owner~name" or an actor id.
func (c *Client) RunActorSync(ctx context.Context, actorID string, input any) ([]json.RawMessage, error) {
	if actorID == "" {
		return nil, fmt.Errorf("actor id is required")
	}
	q := url.Values{}
	q.Set("token", c.token)
	q.Set("format", "json")
	path := fmt.Sprintf("/acts/%s/run-sync-get-dataset-items?%s", url.PathEscape(actorID), q.Encode())

	var items []json.RawMessage
	if err := c.http.Do(ctx, "run_actor", http.MethodPost, path, input, &items); err != nil {
		return nil, err
	}
	return items, nil
}
