package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/internal/provider"
	storemock "github.com/mediaforge/mediaforge/internal/store/mock"
	"github.com/mediaforge/mediaforge/internal/webhook"
	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHedra struct {
	mu       sync.Mutex
	statuses map[string]*provider.Prediction
	errs     map[string]error
	calls    []string
}

func (f *fakeHedra) GetGenerationStatus(_ context.Context, id string) (*provider.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	if s, ok := f.statuses[id]; ok {
		return s, nil
	}
	return &provider.Prediction{ID: id, Status: provider.StatusStarting}, nil
}

type receiver struct {
	mu       sync.Mutex
	payloads []webhook.Payload
	headers  []http.Header
	status   int
}

func (rc *receiver) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p webhook.Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		rc.mu.Lock()
		rc.payloads = append(rc.payloads, p)
		rc.headers = append(rc.headers, r.Header.Clone())
		status := rc.status
		rc.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"duplicate":false}`))
	}
}

func setup(t *testing.T, hedra *fakeHedra, jobDelay time.Duration) (*Poller, *storemock.Store, *receiver) {
	t.Helper()
	rc := &receiver{}
	srv := httptest.NewServer(rc.handler(t))
	t.Cleanup(srv.Close)

	st := storemock.New()
	p := New(st, hedra, Options{
		WebhookURL: srv.URL + "/api/webhooks/replicate-ai",
		Token:      "cron-secret",
		Interval:   time.Hour,
		JobDelay:   jobDelay,
	}, zerolog.Nop())
	return p, st, rc
}

func seedJob(t *testing.T, st *storemock.Store, id, status string, created time.Time) uuid.UUID {
	t.Helper()
	user := uuid.New()
	require.NoError(t, st.CreatePrediction(context.Background(), &models.Prediction{
		ID: id, Provider: models.ProviderHedra, UserID: &user, Tool: models.ToolAvatar,
		Model: "hedra/character-3", Input: []byte(`{"avatar_image":"https://x/face.png","script":"hi"}`),
		Status: status, CreatedAt: created,
	}))
	return user
}

func TestCycle_DeliversTerminalResults(t *testing.T) {
	hedra := &fakeHedra{statuses: map[string]*provider.Prediction{
		"g-done": {ID: "g-done", Status: provider.StatusSucceeded, Output: []string{"https://cdn.hedra.com/v.mp4"}},
		"g-err":  {ID: "g-err", Status: provider.StatusFailed, Error: "face not detected"},
	}}
	p, st, rc := setup(t, hedra, 0)
	now := time.Now()
	user := seedJob(t, st, "g-done", models.PredictionProcessing, now.Add(-2*time.Minute))
	seedJob(t, st, "g-err", models.PredictionStarting, now.Add(-time.Minute))
	seedJob(t, st, "g-wait", models.PredictionStarting, now)

	report, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{Checked: 3, Completed: 2, Pending: 1}, report)
	assert.Equal(t, []string{"g-done", "g-err", "g-wait"}, hedra.calls)

	require.Len(t, rc.payloads, 2)
	done := rc.payloads[0]
	assert.Equal(t, "g-done", done.ID)
	assert.Equal(t, "succeeded", done.Status)
	assert.Equal(t, models.ProviderHedra, done.Provider)
	assert.Equal(t, []any{"https://cdn.hedra.com/v.mp4"}, done.Output)
	assert.Equal(t, "avatar", done.Input["tool"])
	assert.Equal(t, user.String(), done.Input["user_id"])
	assert.Equal(t, "https://x/face.png", done.Input["avatar_image"])

	failed := rc.payloads[1]
	assert.Equal(t, "failed", failed.Status)
	assert.Equal(t, "face not detected", failed.Error)
	assert.Nil(t, failed.Output)

	h := rc.headers[0]
	assert.Equal(t, "Bearer cron-secret", h.Get("Authorization"))
	assert.Equal(t, UserAgent, h.Get("User-Agent"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestCycle_ReportsProcessingTransition(t *testing.T) {
	hedra := &fakeHedra{statuses: map[string]*provider.Prediction{
		"g-1": {ID: "g-1", Status: provider.StatusProcessing},
		"g-2": {ID: "g-2", Status: provider.StatusProcessing},
	}}
	p, st, rc := setup(t, hedra, 0)
	seedJob(t, st, "g-1", models.PredictionStarting, time.Now().Add(-time.Minute))
	seedJob(t, st, "g-2", models.PredictionProcessing, time.Now())

	report, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Pending)
	require.Len(t, rc.payloads, 1)
	assert.Equal(t, "g-1", rc.payloads[0].ID)
	assert.Equal(t, "processing", rc.payloads[0].Status)
}

func TestCycle_JobErrorDoesNotStopLoop(t *testing.T) {
	hedra := &fakeHedra{
		statuses: map[string]*provider.Prediction{
			"g-2": {ID: "g-2", Status: provider.StatusSucceeded, Output: []string{"https://cdn.hedra.com/v.mp4"}},
		},
		errs: map[string]error{"g-1": provider.ErrUnreachable},
	}
	p, st, rc := setup(t, hedra, 0)
	seedJob(t, st, "g-1", models.PredictionStarting, time.Now().Add(-time.Minute))
	seedJob(t, st, "g-2", models.PredictionStarting, time.Now())

	report, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Completed)
	assert.Len(t, rc.payloads, 1)
}

func TestCycle_WebhookRejectionCountsAsError(t *testing.T) {
	hedra := &fakeHedra{statuses: map[string]*provider.Prediction{
		"g-1": {ID: "g-1", Status: provider.StatusSucceeded, Output: []string{"u"}},
	}}
	p, st, rc := setup(t, hedra, 0)
	rc.status = http.StatusInternalServerError
	seedJob(t, st, "g-1", models.PredictionStarting, time.Now())

	report, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.Completed)
}

func TestCycle_OnlyHedraJobs(t *testing.T) {
	hedra := &fakeHedra{}
	p, st, _ := setup(t, hedra, 0)
	require.NoError(t, st.CreatePrediction(context.Background(), &models.Prediction{
		ID: "r-1", Provider: models.ProviderReplicate, Tool: models.ToolThumbnail,
	}))
	seedJob(t, st, "g-done", models.PredictionSucceeded, time.Now())

	report, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleReport{}, report)
	assert.Empty(t, hedra.calls)
}

func TestCycle_ListError(t *testing.T) {
	p, st, _ := setup(t, &fakeHedra{}, 0)
	st.FailOn("ListPendingPredictions", errors.New("db down"))

	_, err := p.Cycle(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestCycle_SpacesJobs(t *testing.T) {
	p, st, _ := setup(t, &fakeHedra{}, 40*time.Millisecond)
	for i, id := range []string{"g-1", "g-2", "g-3"} {
		seedJob(t, st, id, models.PredictionStarting, time.Now().Add(time.Duration(i)*time.Millisecond))
	}

	start := time.Now()
	report, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestCycle_StopsWhenCancelled(t *testing.T) {
	p, st, _ := setup(t, &fakeHedra{}, time.Hour)
	seedJob(t, st, "g-1", models.PredictionStarting, time.Now().Add(-time.Minute))
	seedJob(t, st, "g-2", models.PredictionStarting, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := p.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
}

func TestRun_PollsImmediatelyAndStops(t *testing.T) {
	hedra := &fakeHedra{}
	p, st, _ := setup(t, hedra, 0)
	seedJob(t, st, "g-1", models.PredictionStarting, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		hedra.mu.Lock()
		defer hedra.mu.Unlock()
		return len(hedra.calls) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
