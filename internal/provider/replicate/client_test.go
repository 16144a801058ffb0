package replicate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediaforge/mediaforge/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{
		Token:        "r8_test",
		BaseURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Options{Token: "  "})
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
}

func TestCreatePrediction_SendsModelInputAndWebhook(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/google/nano-banana-pro/predictions"), r.URL.Path)
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc123","status":"starting","input":{"prompt":"a cat"}}`))
	})

	input := ThumbnailInput{Prompt: "a cat"}.Build()
	p, err := c.CreatePrediction(context.Background(), ModelNanoBananaPro, input, "https://app.example.com/api/webhooks/replicate-ai?tool=thumbnail")
	require.NoError(t, err)
	assert.Equal(t, "abc123", p.ID)
	assert.Equal(t, provider.StatusStarting, p.Status)

	inputSent, ok := body["input"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a cat", inputSent["prompt"])
	assert.Equal(t, "https://app.example.com/api/webhooks/replicate-ai?tool=thumbnail", body["webhook"])
	assert.ElementsMatch(t, []any{"start", "completed"}, body["webhook_events_filter"])
}

func TestCreatePrediction_UpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"title":"Input validation failed","detail":"prompt is required","status":422}`))
	})

	_, err := c.CreatePrediction(context.Background(), ModelFaceSwap, FaceSwapInput{}.Build(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUpstream)
	assert.Contains(t, err.Error(), "prompt is required")
}

func TestGetPrediction_MapsOutputAndError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/predictions/ok"):
			_, _ = w.Write([]byte(`{"id":"ok","status":"succeeded","output":["https://replicate.delivery/a.png","https://replicate.delivery/b.png"]}`))
		case strings.HasSuffix(r.URL.Path, "/predictions/single"):
			_, _ = w.Write([]byte(`{"id":"single","status":"succeeded","output":"https://replicate.delivery/song.mp3"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"bad","status":"failed","error":"NSFW content detected"}`))
		}
	})
	ctx := context.Background()

	p, err := c.GetPrediction(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusSucceeded, p.Status)
	assert.Equal(t, []string{"https://replicate.delivery/a.png", "https://replicate.delivery/b.png"}, p.Output)

	p, err = c.GetPrediction(ctx, "single")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://replicate.delivery/song.mp3"}, p.Output)

	p, err = c.GetPrediction(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusFailed, p.Status)
	assert.Equal(t, "NSFW content detected", p.Error)
}

func TestWait_PollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			_, _ = w.Write([]byte(`{"id":"p1","status":"processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":"https://replicate.delivery/v.mp4"}`))
	})

	p, err := c.Wait(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, provider.StatusSucceeded, p.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInputBuilders(t *testing.T) {
	thumb := ThumbnailInput{Prompt: "p", ImageInputs: []string{"https://x/ref.png"}}.Build()
	assert.Equal(t, "16:9", thumb["aspect_ratio"])
	assert.Equal(t, []string{"https://x/ref.png"}, thumb["image_input"])

	mm := MusicInput{Lyrics: "la la", SongFile: "https://x/ref.mp3"}.BuildMiniMax()
	assert.Equal(t, "la la", mm["lyrics"])
	assert.Equal(t, "https://x/ref.mp3", mm["song_file"])
	assert.NotContains(t, mm, "prompt")

	sa := MusicInput{Prompt: "lofi", SecondsTotal: 500}.BuildStableAudio()
	assert.Equal(t, 190, sa["seconds_total"])
	assert.Equal(t, 30, MusicInput{Prompt: "lofi"}.BuildStableAudio()["seconds_total"])

	vs := VideoSwapInput{Video: "https://x/v.mp4", Image: "https://x/i.png"}.Build()
	assert.Equal(t, "720", vs["resolution"])

	assert.Equal(t, "wan-video/wan-2.2-animate-replace", ModelWanVideoSwap.String())
}
