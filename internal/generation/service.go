// Package generation accepts tool submissions from users: it charges
// credits, starts the provider job and records the prediction so the webhook
// and poller can complete it later.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/internal/provider"
	"github.com/mediaforge/mediaforge/internal/provider/fal"
	"github.com/mediaforge/mediaforge/internal/provider/hedra"
	"github.com/mediaforge/mediaforge/internal/provider/openai"
	"github.com/mediaforge/mediaforge/internal/provider/replicate"
	"github.com/mediaforge/mediaforge/internal/storage"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/internal/tts"
	"github.com/mediaforge/mediaforge/internal/webhook"
	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidRequest      = errors.New("invalid generation request")
	ErrProviderUnavailable = errors.New("generation provider not configured")
	ErrInsufficientCredits = store.ErrInsufficientCredits
)

// Predictor starts Replicate predictions.
type Predictor interface {
	CreatePrediction(ctx context.Context, model replicate.Model, input map[string]any, webhookURL string) (*provider.Prediction, error)
}

// Synthesizer turns a script into mp3 speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error)
}

// AvatarRenderer renders talking-avatar videos on Hedra.
type AvatarRenderer interface {
	UploadAsset(ctx context.Context, kind, filename string, data []byte) (string, error)
	CreateGeneration(ctx context.Context, req hedra.GenerationRequest) (string, error)
}

// VideoQueue renders cinematographer videos on fal.
type VideoQueue interface {
	Submit(ctx context.Context, model string, input map[string]any, webhookURL string) (string, error)
	Wait(ctx context.Context, model, requestID string) (*provider.Prediction, error)
}

// Applier records a terminal job result; the webhook Reconciler implements it.
type Applier interface {
	Apply(ctx context.Context, p webhook.Payload) (webhook.Summary, error)
}

// Fetcher downloads user-supplied media.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Deps wires a Service. Provider fields may be nil when the provider is not
// configured; submissions for its tools then fail with ErrProviderUnavailable.
type Deps struct {
	Store      store.Store
	Replicate  Predictor
	TTS        Synthesizer
	Hedra      AvatarRenderer
	Fal        VideoQueue
	Objects    storage.ObjectStore
	Fetcher    Fetcher
	Applier    Applier
	WebhookURL string
	Logger     zerolog.Logger
}

type Service struct {
	store      store.Store
	replicate  Predictor
	tts        Synthesizer
	hedra      AvatarRenderer
	fal        VideoQueue
	objects    storage.ObjectStore
	fetcher    Fetcher
	applier    Applier
	webhookURL string
	validate   *validator.Validate
	logger     zerolog.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

func NewService(d Deps) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:      d.Store,
		replicate:  d.Replicate,
		tts:        d.TTS,
		hedra:      d.Hedra,
		fal:        d.Fal,
		objects:    d.Objects,
		fetcher:    d.Fetcher,
		applier:    d.Applier,
		webhookURL: d.WebhookURL,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     d.Logger.With().Str("component", "generation").Logger(),
		bgCtx:      ctx,
		bgCancel:   cancel,
	}
}

// Shutdown stops background waiters and blocks until they return or ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.bgCancel()
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Replicate tools ---

func (s *Service) SubmitThumbnail(ctx context.Context, userID uuid.UUID, req ThumbnailRequest) (*Submission, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	in := replicate.ThumbnailInput{
		Prompt:      req.Prompt,
		ImageInputs: req.ImageInputs,
		AspectRatio: req.AspectRatio,
		Resolution:  req.Resolution,
	}
	return s.submitReplicate(ctx, userID, models.ToolThumbnail, replicate.ModelNanoBananaPro, in.Build())
}

func (s *Service) SubmitFaceSwap(ctx context.Context, userID uuid.UUID, req FaceSwapRequest) (*Submission, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	in := replicate.FaceSwapInput{InputImage: req.InputImage, SwapImage: req.SwapImage}
	return s.submitReplicate(ctx, userID, models.ToolFaceSwap, replicate.ModelFaceSwap, in.Build())
}

func (s *Service) SubmitMusic(ctx context.Context, userID uuid.UUID, req MusicRequest) (*Submission, error) {
	if req.Engine == "" {
		req.Engine = EngineMiniMax
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	in := replicate.MusicInput{
		Prompt:       req.Prompt,
		Lyrics:       req.Lyrics,
		SongFile:     req.SongFile,
		SecondsTotal: req.SecondsTotal,
	}
	if req.Engine == EngineStableAudio {
		return s.submitReplicate(ctx, userID, models.ToolMusic, replicate.ModelStableAudio, in.BuildStableAudio())
	}
	return s.submitReplicate(ctx, userID, models.ToolMusic, replicate.ModelMiniMaxMusic, in.BuildMiniMax())
}

func (s *Service) SubmitVideoSwap(ctx context.Context, userID uuid.UUID, req VideoSwapRequest) (*Submission, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	in := replicate.VideoSwapInput{Video: req.Video, Image: req.Image, Resolution: req.Resolution}
	return s.submitReplicate(ctx, userID, models.ToolVideoSwap, replicate.ModelWanVideoSwap, in.Build())
}

func (s *Service) submitReplicate(ctx context.Context, userID uuid.UUID, tool models.ToolType, model replicate.Model, input map[string]any) (*Submission, error) {
	if s.replicate == nil {
		return nil, fmt.Errorf("%w: replicate", ErrProviderUnavailable)
	}
	charge, err := s.charge(ctx, userID, tool)
	if err != nil {
		return nil, err
	}

	pred, err := s.replicate.CreatePrediction(ctx, model, input, s.hintedWebhookURL(tool, userID))
	if err != nil {
		s.refund(ctx, charge)
		return nil, fmt.Errorf("starting %s prediction: %w", tool, err)
	}

	status := string(pred.Status)
	if status == "" {
		status = models.PredictionStarting
	}
	s.record(ctx, &models.Prediction{
		ID:       pred.ID,
		Provider: models.ProviderReplicate,
		UserID:   &userID,
		Tool:     tool,
		Model:    model.String(),
		Input:    mustJSON(input),
		Status:   status,
	})
	return charge.submission(pred.ID, models.ProviderReplicate, model.String(), status), nil
}

// hintedWebhookURL carries the tool and owner in the callback URL; Replicate
// validates model inputs, so hints cannot ride along there.
func (s *Service) hintedWebhookURL(tool models.ToolType, userID uuid.UUID) string {
	if s.webhookURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("tool", string(tool))
	q.Set("user_id", userID.String())
	return s.webhookURL + "?" + q.Encode()
}

// --- Avatar (OpenAI TTS + Hedra) ---

func (s *Service) SubmitAvatar(ctx context.Context, userID uuid.UUID, req AvatarRequest) (*Submission, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if s.tts == nil || s.hedra == nil {
		return nil, fmt.Errorf("%w: avatar needs openai and hedra", ErrProviderUnavailable)
	}
	if !openai.ValidVoice(req.Voice) {
		req.Voice = openai.DefaultVoice
	}

	var speed any
	if len(req.Speed) > 0 {
		if err := json.Unmarshal(req.Speed, &speed); err != nil {
			return nil, fmt.Errorf("%w: speed: %v", ErrInvalidRequest, err)
		}
	}
	rate := tts.ConvertSpeed(speed)

	charge, err := s.charge(ctx, userID, models.ToolAvatar)
	if err != nil {
		return nil, err
	}

	genID, audioURL, err := s.renderAvatar(ctx, userID, charge.reference, req, rate)
	if err != nil {
		s.refund(ctx, charge)
		return nil, err
	}

	input := map[string]any{
		"avatar_image": req.ImageURL,
		"audio_url":    audioURL,
		"script":       req.Script,
		"voice":        req.Voice,
		"speed":        rate,
	}
	s.record(ctx, &models.Prediction{
		ID:       genID,
		Provider: models.ProviderHedra,
		UserID:   &userID,
		Tool:     models.ToolAvatar,
		Model:    "hedra/character-3",
		Input:    mustJSON(input),
		Status:   models.PredictionStarting,
	})
	if err := s.store.CreateAvatarVideo(ctx, &models.AvatarVideo{
		UserID:       userID,
		PredictionID: genID,
		Script:       req.Script,
		Voice:        req.Voice,
		AudioURL:     &audioURL,
		CreditCost:   CostAvatar,
	}); err != nil {
		s.logger.Error().Err(err).Str("prediction_id", genID).Msg("recording avatar placeholder")
	}
	return charge.submission(genID, models.ProviderHedra, "hedra/character-3", models.PredictionStarting), nil
}

func (s *Service) renderAvatar(ctx context.Context, userID uuid.UUID, reference string, req AvatarRequest, rate float64) (string, string, error) {
	audio, err := s.tts.Synthesize(ctx, req.Script, req.Voice, rate)
	if err != nil {
		return "", "", fmt.Errorf("synthesizing voice: %w", err)
	}
	audioURL, err := s.objects.Upload(ctx, fmt.Sprintf("avatar/%s/audio-%s", userID, reference), audio, "audio/mpeg")
	if err != nil {
		return "", "", fmt.Errorf("storing voice: %w", err)
	}

	image, contentType, err := s.fetcher.Fetch(ctx, req.ImageURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: fetching avatar image: %v", ErrInvalidRequest, err)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", "", fmt.Errorf("%w: avatar image has type %s", ErrInvalidRequest, contentType)
	}
	imageID, err := s.hedra.UploadAsset(ctx, hedra.AssetImage, "avatar"+storage.ExtensionForContentType(contentType), image)
	if err != nil {
		return "", "", fmt.Errorf("uploading avatar image: %w", err)
	}
	audioID, err := s.hedra.UploadAsset(ctx, hedra.AssetAudio, "voice.mp3", audio)
	if err != nil {
		return "", "", fmt.Errorf("uploading voice: %w", err)
	}

	genID, err := s.hedra.CreateGeneration(ctx, hedra.GenerationRequest{
		ImageAssetID: imageID,
		AudioAssetID: audioID,
		Prompt:       req.Prompt,
		AspectRatio:  req.AspectRatio,
		Resolution:   req.Resolution,
	})
	if err != nil {
		return "", "", fmt.Errorf("starting avatar video: %w", err)
	}
	return genID, audioURL, nil
}

// --- Cinematographer (fal Kling) ---

func (s *Service) SubmitCinematographer(ctx context.Context, userID uuid.UUID, req CinematographerRequest) (*Submission, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if s.fal == nil {
		return nil, fmt.Errorf("%w: fal", ErrProviderUnavailable)
	}
	charge, err := s.charge(ctx, userID, models.ToolCinematographer)
	if err != nil {
		return nil, err
	}

	in := fal.KlingInput{
		Prompt:         req.Prompt,
		ImageURL:       req.ImageURL,
		Duration:       req.Duration,
		AspectRatio:    req.AspectRatio,
		NegativePrompt: req.NegativePrompt,
	}
	model, input := in.Model(), in.Build()
	requestID, err := s.fal.Submit(ctx, model, input, "")
	if err != nil {
		s.refund(ctx, charge)
		return nil, fmt.Errorf("starting cinematographer video: %w", err)
	}

	s.record(ctx, &models.Prediction{
		ID:       requestID,
		Provider: models.ProviderFal,
		UserID:   &userID,
		Tool:     models.ToolCinematographer,
		Model:    model,
		Input:    mustJSON(input),
		Status:   models.PredictionStarting,
	})
	if err := s.store.CreateCinematographerVideo(ctx, &models.CinematographerVideo{
		UserID:     userID,
		RequestID:  requestID,
		Prompt:     req.Prompt,
		Model:      model,
		CreditCost: CostCinematographer,
	}); err != nil {
		s.logger.Error().Err(err).Str("prediction_id", requestID).Msg("recording cinematographer placeholder")
	}

	s.awaitVideo(model, requestID)
	return charge.submission(requestID, models.ProviderFal, model, models.PredictionStarting), nil
}

// ResumePending restarts waiters for fal jobs left pending by a previous
// process.
func (s *Service) ResumePending(ctx context.Context) (int, error) {
	if s.fal == nil {
		return 0, nil
	}
	pending, err := s.store.ListPendingPredictions(ctx, models.ProviderFal)
	if err != nil {
		return 0, fmt.Errorf("listing pending fal jobs: %w", err)
	}
	for _, p := range pending {
		s.awaitVideo(p.Model, p.ID)
	}
	return len(pending), nil
}

// awaitVideo waits for a fal request in the background and applies its
// terminal result through the webhook path.
func (s *Service) awaitVideo(model, requestID string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("prediction_id", requestID).Msg("panic while awaiting video")
			}
		}()

		log := s.logger.With().Str("prediction_id", requestID).Logger()
		payload := webhook.Payload{
			ID:       requestID,
			Provider: models.ProviderFal,
			Model:    model,
			Input:    map[string]any{"tool": string(models.ToolCinematographer)},
		}

		result, err := s.fal.Wait(s.bgCtx, model, requestID)
		switch {
		case err != nil && s.bgCtx.Err() != nil:
			// Shutting down; ResumePending picks the job up on the next boot.
			log.Info().Msg("stopped waiting for cinematographer video")
			return
		case err != nil:
			log.Warn().Err(err).Msg("gave up waiting for cinematographer video")
			payload.Status = models.PredictionFailed
			payload.Error = "waiting for result: " + err.Error()
		default:
			payload.Status = string(result.Status)
			payload.Output = result.Output
			if result.Error != "" {
				payload.Error = result.Error
			}
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.bgCtx), 5*time.Minute)
		defer cancel()
		if _, err := s.applier.Apply(ctx, payload); err != nil {
			log.Error().Err(err).Msg("applying cinematographer result")
		}
	}()
}

// --- Credits ---

type charge struct {
	userID    uuid.UUID
	tool      models.ToolType
	cost      int
	balance   int
	reference string
}

func (c charge) submission(predictionID, providerName, model, status string) *Submission {
	return &Submission{
		PredictionID: predictionID,
		Tool:         c.tool,
		Provider:     providerName,
		Model:        model,
		Status:       status,
		CreditCost:   c.cost,
		Balance:      c.balance,
	}
}

func (s *Service) charge(ctx context.Context, userID uuid.UUID, tool models.ToolType) (charge, error) {
	c := charge{userID: userID, tool: tool, cost: CreditCost(tool), reference: uuid.NewString()}
	balance, err := s.store.DeductCredits(ctx, userID, c.cost, "generate_"+string(tool), c.reference)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			return c, ErrInsufficientCredits
		}
		return c, fmt.Errorf("charging credits: %w", err)
	}
	c.balance = balance
	return c, nil
}

// refund returns a charge after the provider rejected the job.
func (s *Service) refund(ctx context.Context, c charge) {
	if _, err := s.store.AddCredits(context.WithoutCancel(ctx), c.userID, c.cost, "refund_"+string(c.tool), c.reference); err != nil {
		s.logger.Error().Err(err).Str("user_id", c.userID.String()).Str("reference", c.reference).Msg("refunding credits")
	}
}

// --- Helpers ---

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// record stores the prediction row. A failure is logged only: the provider
// job is already running and the webhook records unknown jobs itself.
func (s *Service) record(ctx context.Context, p *models.Prediction) {
	if err := s.store.CreatePrediction(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("prediction_id", p.ID).Msg("recording prediction")
	}
}

func mustJSON(v map[string]any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
