package webhook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/internal/cache"
	cachemock "github.com/mediaforge/mediaforge/internal/cache/mock"
	"github.com/mediaforge/mediaforge/internal/storage"
	storemock "github.com/mediaforge/mediaforge/internal/store/mock"
	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFile struct {
	data        []byte
	contentType string
}

type fakeFetcher struct {
	mu    sync.Mutex
	files map[string]fakeFile
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	file, ok := f.files[url]
	if !ok {
		return nil, "", errors.New("404 not found")
	}
	return file.data, file.contentType, nil
}

type fixture struct {
	store   *storemock.Store
	cache   *cachemock.Cache
	files   *storage.FileStore
	fetcher *fakeFetcher
	rec     *Reconciler
	userID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir(), "https://cdn.test/static")
	require.NoError(t, err)
	f := &fixture{
		store:  storemock.New(),
		cache:  cachemock.New(),
		files:  files,
		userID: uuid.New(),
		fetcher: &fakeFetcher{files: map[string]fakeFile{
			"https://replicate.delivery/a/out-0.png": {[]byte("png-0"), "image/png"},
			"https://replicate.delivery/a/out-1.png": {[]byte("png-1"), "image/png"},
			"https://replicate.delivery/a/song":      {[]byte("mp3"), "audio/mpeg"},
			"https://cdn.hedra.com/v.mp4":            {[]byte("mp4"), "video/mp4"},
		}},
	}
	f.rec = NewReconciler(f.store, f.cache, f.files, f.fetcher, zerolog.Nop(), Options{LockTTL: time.Minute, LockWait: 2 * time.Second})
	return f
}

func (f *fixture) seed(t *testing.T, id string, tool models.ToolType, provider string) {
	t.Helper()
	require.NoError(t, f.store.CreatePrediction(context.Background(), &models.Prediction{
		ID: id, Provider: provider, UserID: &f.userID, Tool: tool, Input: []byte(`{}`),
	}))
}

func succeeded(id string, output any) Payload {
	pt := 4.2
	return Payload{
		ID:      id,
		Status:  models.PredictionSucceeded,
		Input:   map[string]any{"prompt": "a bold thumbnail"},
		Output:  output,
		Metrics: &PayloadMetrics{PredictTime: &pt},
	}
}

func TestApply_SucceededStoresEveryOutput(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)

	summary, err := f.rec.Apply(context.Background(), succeeded("p1", []any{
		"https://replicate.delivery/a/out-0.png",
		"https://replicate.delivery/a/out-1.png",
	}))
	require.NoError(t, err)
	assert.Equal(t, Summary{PredictionID: "p1", Tool: models.ToolThumbnail, Status: "succeeded", Stored: 2}, summary)

	pred := f.store.Prediction("p1")
	assert.Equal(t, models.PredictionSucceeded, pred.Status)
	require.Len(t, pred.Output, 2)
	assert.Equal(t, "https://cdn.test/static/thumbnail/"+f.userID.String()+"/p1-0.png", pred.Output[0])
	assert.NotNil(t, pred.CompletedAt)

	assets, err := f.store.ListAssetsByPrediction(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, 1, assets[1].VariationIndex)
	assert.Equal(t, "https://replicate.delivery/a/out-1.png", assets[1].SourceURL)
	require.NotNil(t, assets[0].Prompt)
	assert.Equal(t, "a bold thumbnail", *assets[0].Prompt)

	data, err := os.ReadFile(filepath.Join(f.files.BasePath(), "thumbnail", f.userID.String(), "p1-1.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-1"), data)

	m := f.store.Metrics["p1"]
	require.NotNil(t, m)
	assert.Equal(t, 2, m.OutputsTotal)
	assert.Equal(t, 2, m.OutputsStored)
	assert.InDelta(t, 4.2, *m.PredictTime, 0.001)

	status, ok, _ := f.cache.GetPredictionStatus(context.Background(), "p1")
	assert.True(t, ok)
	assert.Equal(t, "succeeded", status)
	assert.False(t, f.cache.Locked(cache.PredictionLockKey("p1")))
}

func TestApply_PartialFailureSkipsVariation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)

	summary, err := f.rec.Apply(context.Background(), succeeded("p1", []any{
		"https://replicate.delivery/a/missing.png",
		"https://replicate.delivery/a/out-1.png",
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, f.store.AssetCount())

	pred := f.store.Prediction("p1")
	assert.Equal(t, models.PredictionSucceeded, pred.Status)
	assert.Equal(t, "https://replicate.delivery/a/missing.png", pred.Output[0])
	assert.True(t, strings.HasSuffix(pred.Output[1], "p1-1.png"))
	assert.Equal(t, 1, f.store.Metrics["p1"].OutputsFailed)
}

func TestApply_ContentTypeDrivesExtension(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "m1", models.ToolMusic, models.ProviderReplicate)

	_, err := f.rec.Apply(context.Background(), succeeded("m1", "https://replicate.delivery/a/song"))
	require.NoError(t, err)

	pred := f.store.Prediction("m1")
	require.Len(t, pred.Output, 1)
	assert.True(t, strings.HasSuffix(pred.Output[0], "/m1-0.mp3"))
}

func TestApply_DuplicateDeliveryIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)
	payload := succeeded("p1", "https://replicate.delivery/a/out-0.png")

	_, err := f.rec.Apply(context.Background(), payload)
	require.NoError(t, err)
	fetches := f.fetcher.calls

	summary, err := f.rec.Apply(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, summary.Duplicate)
	assert.Equal(t, 0, summary.Stored)
	assert.Equal(t, fetches, f.fetcher.calls)
	assert.Equal(t, 1, f.store.AssetCount())
}

func TestApply_RecordsKeyActuallyWritten(t *testing.T) {
	f := newFixture(t)
	id := `..\..\evil/../p7`
	f.seed(t, id, models.ToolThumbnail, models.ProviderReplicate)

	summary, err := f.rec.Apply(context.Background(), succeeded(id, "https://replicate.delivery/a/out-0.png"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Stored)

	assets, err := f.store.ListAssetsByPrediction(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	key := assets[0].StorageKey
	assert.Equal(t, "thumbnail/"+f.userID.String()+"/.._.._evil_.._p7-0.png", key)
	assert.Equal(t, f.files.PublicURL(key), assets[0].PublicURL)

	stored, err := os.ReadFile(filepath.Join(f.files.BasePath(), filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-0"), stored)
}

func TestApply_CachedTerminalStatusSkipsDatabase(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.SetPredictionStatus(context.Background(), "p9", "succeeded", time.Minute))
	f.store.FailOn("GetPrediction", errors.New("db down"))

	summary, err := f.rec.Apply(context.Background(), succeeded("p9", "https://replicate.delivery/a/out-0.png"))
	require.NoError(t, err)
	assert.True(t, summary.Duplicate)
	assert.Equal(t, "succeeded", summary.Status)
	assert.Equal(t, models.ToolThumbnail, summary.Tool)
	assert.Zero(t, f.fetcher.calls)
}

func TestApply_CachedProgressStatusStillApplies(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)
	require.NoError(t, f.cache.SetPredictionStatus(context.Background(), "p1", "processing", time.Minute))

	summary, err := f.rec.Apply(context.Background(), succeeded("p1", "https://replicate.delivery/a/out-0.png"))
	require.NoError(t, err)
	assert.False(t, summary.Duplicate)
	assert.Equal(t, 1, summary.Stored)
}

func TestApply_FailedAfterSucceededDoesNotRewrite(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)

	_, err := f.rec.Apply(context.Background(), succeeded("p1", "https://replicate.delivery/a/out-0.png"))
	require.NoError(t, err)

	summary, err := f.rec.Apply(context.Background(), Payload{ID: "p1", Status: "failed", Error: "late failure"})
	require.NoError(t, err)
	assert.True(t, summary.Duplicate)

	pred := f.store.Prediction("p1")
	assert.Equal(t, models.PredictionSucceeded, pred.Status)
	assert.Nil(t, pred.Error)

	cached, ok, err := f.cache.GetPredictionStatus(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PredictionSucceeded, cached)
}

func TestApply_ConcurrentDeliveriesProcessOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)
	payload := succeeded("p1", []any{"https://replicate.delivery/a/out-0.png", "https://replicate.delivery/a/out-1.png"})

	const deliveries = 5
	var wg sync.WaitGroup
	summaries := make([]Summary, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = f.rec.Apply(context.Background(), payload)
		}(i)
	}
	wg.Wait()

	processed := 0
	for i := range summaries {
		require.NoError(t, errs[i])
		if !summaries[i].Duplicate {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Equal(t, 2, f.store.AssetCount())
}

func TestApply_FailedRecordsClassifiedError(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)

	summary, err := f.rec.Apply(context.Background(), Payload{
		ID: "p1", Status: "failed", Error: "NSFW content detected. Try a different prompt.",
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", summary.Status)

	pred := f.store.Prediction("p1")
	assert.Equal(t, models.PredictionFailed, pred.Status)
	require.NotNil(t, pred.Error)
	assert.Equal(t, "NSFW content detected. Try a different prompt.", *pred.Error)
	assert.Equal(t, models.ErrorClassContentPolicy, *pred.ErrorClass)
	assert.Equal(t, "failed", f.store.Metrics["p1"].Status)
}

func TestApply_CanceledWithoutError(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolMusic, models.ProviderReplicate)

	_, err := f.rec.Apply(context.Background(), Payload{ID: "p1", Status: "canceled"})
	require.NoError(t, err)

	pred := f.store.Prediction("p1")
	assert.Equal(t, models.PredictionCanceled, pred.Status)
	assert.Equal(t, "prediction canceled", *pred.Error)
	assert.Equal(t, models.ErrorClassUnknown, *pred.ErrorClass)
}

func TestApply_ProgressTouchesStatusOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)

	summary, err := f.rec.Apply(context.Background(), Payload{ID: "p1", Status: "processing"})
	require.NoError(t, err)
	assert.False(t, summary.Duplicate)
	assert.Equal(t, models.PredictionProcessing, f.store.Prediction("p1").Status)

	// A late "starting" delivery does not move the job backwards.
	_, err = f.rec.Apply(context.Background(), Payload{ID: "p1", Status: "starting"})
	require.NoError(t, err)
	assert.Equal(t, models.PredictionProcessing, f.store.Prediction("p1").Status)
	assert.Empty(t, f.store.Metrics)
}

func TestApply_UnknownPredictionIsRecorded(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	summary, err := f.rec.Apply(context.Background(), Payload{
		ID:     "external-1",
		Status: "succeeded",
		Model:  "cdingram/face-swap",
		Input: map[string]any{
			"swap_image": "a.png", "input_image": "b.png", "user_id": user.String(),
		},
		Output: "https://replicate.delivery/a/out-0.png",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ToolFaceSwap, summary.Tool)

	pred := f.store.Prediction("external-1")
	require.NotNil(t, pred)
	assert.Equal(t, models.ProviderReplicate, pred.Provider)
	assert.Equal(t, "cdingram/face-swap", pred.Model)
	require.NotNil(t, pred.UserID)
	assert.Equal(t, user, *pred.UserID)
	assert.Equal(t, models.PredictionSucceeded, pred.Status)
	assert.True(t, strings.Contains(pred.Output[0], "/face_swap/"+user.String()+"/"))
}

func TestApply_UnknownUserIsDropped(t *testing.T) {
	f := newFixture(t)
	f.store.CheckUsers = true

	summary, err := f.rec.Apply(context.Background(), Payload{
		ID:     "external-2",
		Status: "succeeded",
		Input:  map[string]any{"prompt": "a castle", "user_id": uuid.NewString()},
		Output: []any{"https://replicate.delivery/a/out-0.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)

	pred := f.store.Prediction("external-2")
	require.NotNil(t, pred)
	assert.Nil(t, pred.UserID)
	assert.Equal(t, models.PredictionSucceeded, pred.Status)
	assert.Contains(t, pred.Output[0], "/thumbnail/anonymous/")
}

func TestApply_StoredToolWinsOverClassification(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolVideoSwap, models.ProviderReplicate)

	summary, err := f.rec.Apply(context.Background(), Payload{
		ID: "p1", Status: "processing", Input: map[string]any{"prompt": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ToolVideoSwap, summary.Tool)
}

func TestApply_AvatarCompletesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "gen-1", models.ToolAvatar, models.ProviderHedra)
	require.NoError(t, f.store.CreateAvatarVideo(context.Background(), &models.AvatarVideo{
		UserID: f.userID, PredictionID: "gen-1", Script: "hi", Voice: "alloy", CreditCost: 20,
	}))

	summary, err := f.rec.Apply(context.Background(), Payload{
		ID: "gen-1", Status: "succeeded", Provider: models.ProviderHedra, Output: "https://cdn.hedra.com/v.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 0, f.store.AssetCount())

	v, err := f.store.GetAvatarVideoByPrediction(context.Background(), "gen-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssetCompleted, v.Status)
	require.NotNil(t, v.VideoURL)
	assert.Equal(t, "https://cdn.test/static/avatar/"+f.userID.String()+"/gen-1-0.mp4", *v.VideoURL)
}

func TestApply_AvatarWithoutOutputFailsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "gen-1", models.ToolAvatar, models.ProviderHedra)
	require.NoError(t, f.store.CreateAvatarVideo(context.Background(), &models.AvatarVideo{
		UserID: f.userID, PredictionID: "gen-1",
	}))

	_, err := f.rec.Apply(context.Background(), Payload{ID: "gen-1", Status: "succeeded"})
	require.NoError(t, err)

	v, _ := f.store.GetAvatarVideoByPrediction(context.Background(), "gen-1")
	assert.Equal(t, models.AssetFailed, v.Status)
}

func TestApply_CinematographerFailureFailsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "req-1", models.ToolCinematographer, models.ProviderFal)
	require.NoError(t, f.store.CreateCinematographerVideo(context.Background(), &models.CinematographerVideo{
		UserID: f.userID, RequestID: "req-1", Prompt: "drone shot",
	}))

	_, err := f.rec.Apply(context.Background(), Payload{ID: "req-1", Status: "failed", Error: "Request timed out"})
	require.NoError(t, err)

	v, err := f.store.GetCinematographerVideoByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.AssetFailed, v.Status)
	assert.Equal(t, "Request timed out", *v.Error)
	assert.Equal(t, models.ErrorClassTimeout, *f.store.Prediction("req-1").ErrorClass)
}

func TestApply_InvalidPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.rec.Apply(context.Background(), Payload{Status: "succeeded"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = f.rec.Apply(context.Background(), Payload{ID: "p1", Status: "done"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestApply_BusyWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", models.ToolThumbnail, models.ProviderReplicate)
	rec := NewReconciler(f.store, f.cache, f.files, f.fetcher, zerolog.Nop(), Options{LockWait: 150 * time.Millisecond})

	_, ok, err := f.cache.AcquireLock(context.Background(), cache.PredictionLockKey("p1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = rec.Apply(context.Background(), Payload{ID: "p1", Status: "processing"})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestApply_StoreErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("GetPrediction", errors.New("connection reset"))

	_, err := f.rec.Apply(context.Background(), Payload{ID: "p1", Status: "processing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, f.cache.Locked(cache.PredictionLockKey("p1")))
}
