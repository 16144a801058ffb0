package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputURLs(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, nil},
		{"empty string", "", nil},
		{"string", "https://x/a.png", []string{"https://x/a.png"}},
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"any slice", []any{"a", map[string]any{"url": "b"}}, []string{"a", "b"}},
		{"object url", map[string]any{"url": "https://x/v.mp4"}, []string{"https://x/v.mp4"}},
		{"nested video", map[string]any{"video": map[string]any{"url": "https://x/v.mp4"}}, []string{"https://x/v.mp4"}},
		{"nested images", map[string]any{"images": []any{map[string]any{"url": "i1"}, map[string]any{"url": "i2"}}}, []string{"i1", "i2"}},
		{"unrecognised object", map[string]any{"seed": 42.0}, nil},
		{"number", 3.0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputURLs(tt.in))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusStarting.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
}

func TestWaitForCompletion_ReturnsTerminal(t *testing.T) {
	var calls atomic.Int32
	get := func(ctx context.Context) (*Prediction, error) {
		if calls.Add(1) < 3 {
			return &Prediction{ID: "p1", Status: StatusProcessing}, nil
		}
		return &Prediction{ID: "p1", Status: StatusSucceeded, Output: []string{"u"}}, nil
	}

	p, err := WaitForCompletion(context.Background(), get, 5*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, p.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitForCompletion_Timeout(t *testing.T) {
	get := func(ctx context.Context) (*Prediction, error) {
		return &Prediction{ID: "p1", Status: StatusStarting}, nil
	}

	_, err := WaitForCompletion(context.Background(), get, 5*time.Millisecond, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForCompletion_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	get := func(ctx context.Context) (*Prediction, error) {
		cancel()
		return &Prediction{ID: "p1", Status: StatusProcessing}, nil
	}

	_, err := WaitForCompletion(ctx, get, time.Second, time.Minute)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForCompletion_GetError(t *testing.T) {
	boom := errors.New("boom")
	get := func(ctx context.Context) (*Prediction, error) { return nil, boom }

	_, err := WaitForCompletion(context.Background(), get, time.Millisecond, time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestWaitForCompletion_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	get := func(ctx context.Context) (*Prediction, error) {
		switch calls.Add(1) {
		case 1:
			return &Prediction{ID: "p1", Status: StatusProcessing}, nil
		case 2:
			return nil, &StatusError{Op: "fal status", Code: http.StatusServiceUnavailable, Body: "upstream hiccup"}
		case 3:
			return nil, ClassifyTransportError(errors.New("connection reset by peer"))
		default:
			return &Prediction{ID: "p1", Status: StatusSucceeded}, nil
		}
	}

	p, err := WaitForCompletion(context.Background(), get, 5*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, p.Status)
	assert.Equal(t, int32(4), calls.Load())
}

func TestWaitForCompletion_TransientUntilDeadline(t *testing.T) {
	get := func(ctx context.Context) (*Prediction, error) {
		return nil, &StatusError{Op: "fal status", Code: http.StatusBadGateway, Body: "bad gateway"}
	}

	_, err := WaitForCompletion(context.Background(), get, 5*time.Millisecond, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWaitForCompletion_ClientErrorEndsWait(t *testing.T) {
	var calls atomic.Int32
	get := func(ctx context.Context) (*Prediction, error) {
		calls.Add(1)
		return nil, &StatusError{Op: "fal status", Code: http.StatusNotFound, Body: "request not found"}
	}

	_, err := WaitForCompletion(context.Background(), get, time.Millisecond, time.Second)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unreachable", ErrUnreachable, true},
		{"timeout", ClassifyTransportError(context.DeadlineExceeded), true},
		{"503", &StatusError{Code: 503}, true},
		{"429", &StatusError{Code: 429}, true},
		{"422", &StatusError{Code: 422}, false},
		{"bare upstream", ErrUpstream, false},
		{"other", errors.New("decoding"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	assert.ErrorIs(t, ClassifyTransportError(context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, ClassifyTransportError(context.Canceled), ErrTimeout)
	assert.ErrorIs(t, ClassifyTransportError(errors.New("connection refused")), ErrUnreachable)
}

func TestJSONClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("X-Key", "secret")
	c := NewJSONClient("test", srv.URL, h, 5*time.Second)

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.Do(context.Background(), "create", http.MethodPost, "/jobs", map[string]string{"a": "b"}, &out))
	assert.Equal(t, "abc", out.ID)
	assert.Equal(t, srv.URL, c.BaseURL())
}

func TestJSONClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"bad prompt"}`))
	}))
	defer srv.Close()

	c := NewJSONClient("test", srv.URL, nil, 5*time.Second)
	err := c.Do(context.Background(), "create", http.MethodPost, "/jobs", nil, nil)
	assert.ErrorIs(t, err, ErrUpstream)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Contains(t, err.Error(), "status 422")
	assert.Contains(t, err.Error(), "bad prompt")
}

func TestJSONClient_Unreachable(t *testing.T) {
	c := NewJSONClient("test", "http://127.0.0.1:1", nil, time.Second)
	err := c.Do(context.Background(), "get", http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, ErrUnreachable)
}
