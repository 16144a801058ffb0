package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mediaforge/mediaforge/internal/metrics"
)

// maxErrorBody bounds how much of an error response is kept in the message.
const maxErrorBody = 4 << 10

// JSONClient is a small REST transport for providers without a Go SDK.
// Every call is counted in provider_requests_total.
type JSONClient struct {
	name    string
	baseURL string
	headers http.Header
	client  *http.Client
}

// NewJSONClient creates a JSONClient for the named provider. headers are set
// on every request.
func NewJSONClient(name, baseURL string, headers http.Header, timeout time.Duration) *JSONClient {
	return &JSONClient{
		name:    name,
		baseURL: baseURL,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured base URL.
func (c *JSONClient) BaseURL() string {
	return c.baseURL
}

// Do sends body (if non-nil) as JSON to baseURL+path and decodes a 2xx
// response into out (if non-nil). Non-2xx responses return ErrUpstream with
// the raw body in the message.
func (c *JSONClient) Do(ctx context.Context, op, method, path string, body, out any) error {
	err := c.do(ctx, method, c.baseURL+path, body, out)
	metrics.ObserveProviderRequest(c.name, op, err)
	return err
}

func (c *JSONClient) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

// DoRequest sends a prepared request, for payloads that are not JSON.
func (c *JSONClient) DoRequest(op string, req *http.Request, out any) error {
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	err := c.send(req, out)
	metrics.ObserveProviderRequest(c.name, op, err)
	return err
}

func (c *JSONClient) send(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Op:   c.name + " " + req.URL.Path,
			Code: resp.StatusCode,
			Body: string(bytes.TrimSpace(raw)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.name, err)
	}
	return nil
}
