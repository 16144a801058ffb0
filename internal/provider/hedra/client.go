// Package hedra adapts the Hedra character video REST API. Hedra has no
// webhooks; completion is found by polling GetGenerationStatus.
package hedra

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/provider"
)

const providerName = "hedra"

// DefaultModelID is Hedra Character-3.
const DefaultModelID = "d1dd37a3-e39a-4854-a298-6510289f9cf2"

// Asset kinds accepted by UploadAsset.
const (
	AssetImage = "image"
	AssetAudio = "audio"
)

type Options struct {
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
}

type Client struct {
	http *provider.JSONClient
}

// NewClient returns provider.ErrNotConfigured when no API key is set.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotConfigured, providerName)
	}
	headers := http.Header{}
	headers.Set("X-API-Key", opts.APIKey)
	return &Client{
		http: provider.NewJSONClient(providerName, strings.TrimRight(opts.BaseURL, "/"), headers, opts.RequestTimeout),
	}, nil
}

type assetResponse struct {
	ID string `json:"id"`
}

// UploadAsset registers an asset and uploads its bytes, returning the asset id.
func (c *Client) UploadAsset(ctx context.Context, kind, filename string, data []byte) (string, error) {
	var created assetResponse
	if err := c.http.Do(ctx, "create_asset", http.MethodPost, "/assets",
		map[string]string{"name": filename, "type": kind}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: hedra create asset returned no id", provider.ErrUpstream)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}

	u := fmt.Sprintf("%s/assets/%s/upload", c.http.BaseURL(), url.PathEscape(created.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.http.DoRequest("upload_asset", req, nil); err != nil {
		return "", err
	}
	return created.ID, nil
}

// GenerationRequest describes one talking-avatar video.
type GenerationRequest struct {
	ImageAssetID string
	AudioAssetID string
	Prompt       string
	ModelID      string
	Resolution   string
	AspectRatio  string
}

type generationBody struct {
	Type            string          `json:"type"`
	AIModelID       string          `json:"ai_model_id"`
	StartKeyframeID string          `json:"start_keyframe_id"`
	AudioID         string          `json:"audio_id"`
	Inputs          generatedInputs `json:"generated_video_inputs"`
}

type generatedInputs struct {
	TextPrompt  string `json:"text_prompt"`
	Resolution  string `json:"resolution"`
	AspectRatio string `json:"aspect_ratio"`
}

type generationResponse struct {
	ID string `json:"id"`
}

// CreateGeneration starts a video generation and returns its id.
func (c *Client) CreateGeneration(ctx context.Context, req GenerationRequest) (string, error) {
	body := generationBody{
		Type:            "video",
		AIModelID:       orDefault(req.ModelID, DefaultModelID),
		StartKeyframeID: req.ImageAssetID,
		AudioID:         req.AudioAssetID,
		Inputs: generatedInputs{
			TextPrompt:  orDefault(req.Prompt, "A person talking at the camera"),
			Resolution:  orDefault(req.Resolution, "720p"),
			AspectRatio: orDefault(req.AspectRatio, "9:16"),
		},
	}
	var resp generationResponse
	if err := c.http.Do(ctx, "create_generation", http.MethodPost, "/generations", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: hedra create generation returned no id", provider.ErrUpstream)
	}
	return resp.ID, nil
}

type statusResponse struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	URL          string   `json:"url"`
	DownloadURL  string   `json:"download_url"`
	ErrorMessage string   `json:"error_message"`
	Progress     *float64 `json:"progress"`
}

// GetGenerationStatus polls one generation.
func (c *Client) GetGenerationStatus(ctx context.Context, id string) (*provider.Prediction, error) {
	var resp statusResponse
	path := fmt.Sprintf("/generations/%s/status", url.PathEscape(id))
	if err := c.http.Do(ctx, "status", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	p := &provider.Prediction{ID: id, Status: MapStatus(resp.Status)}
	switch p.Status {
	case provider.StatusSucceeded:
		videoURL := resp.URL
		if videoURL == "" {
			videoURL = resp.DownloadURL
		}
		if videoURL == "" {
			p.Status = provider.StatusFailed
			p.Error = "hedra generation completed without a video url"
			return p, nil
		}
		p.Output = []string{videoURL}
	case provider.StatusFailed:
		p.Error = resp.ErrorMessage
		if p.Error == "" {
			p.Error = "hedra generation failed"
		}
	}
	return p, nil
}

// MapStatus maps Hedra's generation status onto provider.Status.
func MapStatus(s string) provider.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return provider.StatusStarting
	case "processing", "finalizing":
		return provider.StatusProcessing
	case "complete", "completed":
		return provider.StatusSucceeded
	case "error", "failed":
		return provider.StatusFailed
	case "canceled", "cancelled":
		return provider.StatusCanceled
	default:
		return provider.StatusProcessing
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
