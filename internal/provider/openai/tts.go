// Package openai synthesizes avatar voice-overs with the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/metrics"
	"github.com/mediaforge/mediaforge/internal/provider"
	goopenai "github.com/sashabaranov/go-openai"
)

const providerName = "openai"

// DefaultVoice is used when a request names no voice.
const DefaultVoice = "alloy"

var voices = map[string]goopenai.SpeechVoice{
	"alloy":   goopenai.VoiceAlloy,
	"echo":    goopenai.VoiceEcho,
	"fable":   goopenai.VoiceFable,
	"onyx":    goopenai.VoiceOnyx,
	"nova":    goopenai.VoiceNova,
	"shimmer": goopenai.VoiceShimmer,
}

// ValidVoice reports whether v is a supported voice name.
func ValidVoice(v string) bool {
	_, ok := voices[strings.ToLower(v)]
	return ok
}

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type TTS struct {
	client  *goopenai.Client
	model   goopenai.SpeechModel
	timeout time.Duration
}

// NewTTS returns provider.ErrNotConfigured when no API key is set.
func NewTTS(opts Options) (*TTS, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotConfigured, providerName)
	}
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := goopenai.SpeechModel(opts.Model)
	if model == "" {
		model = goopenai.TTSModel1
	}
	return &TTS{client: goopenai.NewClientWithConfig(cfg), model: model, timeout: opts.Timeout}, nil
}

// Synthesize returns mp3 audio for text. speed is the OpenAI multiplier,
// already within [0.25, 4.0].
func (t *TTS) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	audio, err := t.synthesize(ctx, text, voice, speed)
	metrics.ObserveProviderRequest(providerName, "speech", err)
	return audio, err
}

func (t *TTS) synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("speech text is empty")
	}
	v, ok := voices[strings.ToLower(voice)]
	if !ok {
		v = voices[DefaultVoice]
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	resp, err := t.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          t.model,
		Input:          text,
		Voice:          v,
		ResponseFormat: goopenai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return nil, wrapError(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, provider.ClassifyTransportError(err)
	}
	return audio, nil
}

func wrapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: openai status %d: %s", provider.ErrUpstream, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: openai status %d: %v", provider.ErrUpstream, reqErr.HTTPStatusCode, reqErr.Err)
	}
	return provider.ClassifyTransportError(err)
}
