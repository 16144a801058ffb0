// Package mock provides an in-memory store.Store for tests of the packages
// built on top of the database layer.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/mediaforge/mediaforge/pkg/models"
)

// Store is a goroutine-safe in-memory store.Store. It mirrors the Postgres
// semantics the callers rely on: terminal predictions are never rewritten,
// asset variations are inserted once, and credits never go negative.
type Store struct {
	mu sync.Mutex

	Users       map[uuid.UUID]string
	APIKeys     []*models.APIKey
	Predictions map[string]*models.Prediction
	Assets      []*models.GeneratedAsset
	Avatars     map[string]*models.AvatarVideo
	Cinemas     map[string]*models.CinematographerVideo
	Metrics     map[string]*models.PredictionMetrics
	Credits     map[uuid.UUID]int
	Ledger      []models.CreditEntry
	Ads         map[string]*models.WinningAd
	Offers      map[string]*models.Offer

	// Errs makes the named method return the given error.
	Errs map[string]error

	// CheckUsers makes CreatePrediction reject user ids missing from Users,
	// like the foreign key in Postgres.
	CheckUsers bool
}

func New() *Store {
	return &Store{
		Users:       make(map[uuid.UUID]string),
		Predictions: make(map[string]*models.Prediction),
		Avatars:     make(map[string]*models.AvatarVideo),
		Cinemas:     make(map[string]*models.CinematographerVideo),
		Metrics:     make(map[string]*models.PredictionMetrics),
		Credits:     make(map[uuid.UUID]int),
		Ads:         make(map[string]*models.WinningAd),
		Offers:      make(map[string]*models.Offer),
		Errs:        make(map[string]error),
	}
}

// FailOn makes method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.Errs, method)
		return
	}
	s.Errs[method] = err
}

// Prediction returns a copy of the stored prediction, or nil.
func (s *Store) Prediction(id string) *models.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Predictions[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// AssetCount returns how many generated assets were recorded.
func (s *Store) AssetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Assets)
}

func (s *Store) err(method string) error {
	return s.Errs[method]
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err("Ping")
}

// --- Users & API Keys ---

func (s *Store) EnsureUser(_ context.Context, id uuid.UUID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("EnsureUser"); err != nil {
		return err
	}
	s.Users[id] = email
	return nil
}

func (s *Store) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("GetAPIKeyByPrefix"); err != nil {
		return nil, err
	}
	var out []*models.APIKey
	for _, k := range s.APIKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, k := range s.APIKeys {
		if k.ID == id {
			k.LastUsedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("CreateAPIKey"); err != nil {
		return err
	}
	for _, k := range s.APIKeys {
		if k.KeyHash == key.KeyHash {
			return store.ErrDuplicateKey
		}
	}
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	s.APIKeys = append(s.APIKeys, key)
	return nil
}

// --- Predictions ---

func (s *Store) CreatePrediction(_ context.Context, p *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("CreatePrediction"); err != nil {
		return err
	}
	if _, ok := s.Predictions[p.ID]; ok {
		return store.ErrDuplicateKey
	}
	if s.CheckUsers && p.UserID != nil {
		if _, ok := s.Users[*p.UserID]; !ok {
			return store.ErrForeignKey
		}
	}
	if p.Status == "" {
		p.Status = models.PredictionStarting
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.Predictions[p.ID] = &cp
	return nil
}

func (s *Store) GetPrediction(_ context.Context, id string) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("GetPrediction"); err != nil {
		return nil, err
	}
	p, ok := s.Predictions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPredictions(_ context.Context, filter store.PredictionFilter) ([]*models.Prediction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("ListPredictions"); err != nil {
		return nil, 0, err
	}
	var matched []*models.Prediction
	for _, p := range s.Predictions {
		if p.UserID == nil || *p.UserID != filter.UserID {
			continue
		}
		if filter.Tool != "" && p.Tool != filter.Tool {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return page(matched, filter.Page, filter.Limit), len(matched), nil
}

func (s *Store) ListPendingPredictions(_ context.Context, provider string) ([]*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("ListPendingPredictions"); err != nil {
		return nil, err
	}
	var out []*models.Prediction
	for _, p := range s.Predictions {
		if p.Provider == provider && !models.IsTerminalStatus(p.Status) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdatePrediction(_ context.Context, id string, status string, opts ...store.PredictionUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("UpdatePrediction"); err != nil {
		return err
	}
	p, ok := s.Predictions[id]
	if !ok {
		return store.ErrNotFound
	}
	if models.IsTerminalStatus(p.Status) ||
		(p.Status == models.PredictionProcessing && status == models.PredictionStarting) {
		return store.ErrInvalidTransition
	}

	params := store.ApplyPredictionUpdateOptions(opts...)
	now := time.Now().UTC()
	p.Status = status
	p.UpdatedAt = now
	if params.Output != nil {
		p.Output = params.Output
	}
	if params.Error != nil {
		p.Error = params.Error
		p.ErrorClass = params.ErrorClass
	}
	if models.IsTerminalStatus(status) {
		p.CompletedAt = &now
	}
	return nil
}

// --- Generated Assets ---

func (s *Store) CreateGeneratedAsset(_ context.Context, a *models.GeneratedAsset) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("CreateGeneratedAsset"); err != nil {
		return false, err
	}
	for _, existing := range s.Assets {
		if existing.PredictionID == a.PredictionID && existing.VariationIndex == a.VariationIndex {
			return false, nil
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.Assets = append(s.Assets, &cp)
	return true, nil
}

func (s *Store) ListAssetsByPrediction(_ context.Context, predictionID string) ([]*models.GeneratedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("ListAssetsByPrediction"); err != nil {
		return nil, err
	}
	var out []*models.GeneratedAsset
	for _, a := range s.Assets {
		if a.PredictionID == predictionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariationIndex < out[j].VariationIndex })
	return out, nil
}

func (s *Store) ListAssetsByUser(_ context.Context, filter store.AssetFilter) ([]*models.GeneratedAsset, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("ListAssetsByUser"); err != nil {
		return nil, 0, err
	}
	var out []*models.GeneratedAsset
	for _, a := range s.Assets {
		if a.UserID == nil || *a.UserID != filter.UserID {
			continue
		}
		if filter.Tool != "" && a.Tool != filter.Tool {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Page, filter.Limit), len(out), nil
}

// --- Avatar & Cinematographer Videos ---

func (s *Store) CreateAvatarVideo(_ context.Context, v *models.AvatarVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("CreateAvatarVideo"); err != nil {
		return err
	}
	if _, ok := s.Avatars[v.PredictionID]; ok {
		return store.ErrDuplicateKey
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = models.AssetPending
	}
	v.CreatedAt, v.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	cp := *v
	s.Avatars[v.PredictionID] = &cp
	return nil
}

func (s *Store) GetAvatarVideoByPrediction(_ context.Context, predictionID string) (*models.AvatarVideo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("GetAvatarVideoByPrediction"); err != nil {
		return nil, err
	}
	v, ok := s.Avatars[predictionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) ListAvatarVideos(_ context.Context, filter store.VideoFilter) ([]*models.AvatarVideo, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("ListAvatarVideos"); err != nil {
		return nil, 0, err
	}
	var out []*models.AvatarVideo
	for _, v := range s.Avatars {
		if v.UserID != filter.UserID || (filter.Status != "" && v.Status != filter.Status) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Page, filter.Limit), len(out), nil
}

func (s *Store) CompleteAvatarVideo(_ context.Context, predictionID string, videoURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Avatars[predictionID]
	if !ok || v.Status == models.AssetCompleted {
		return store.ErrNotFound
	}
	v.Status, v.VideoURL, v.Error = models.AssetCompleted, &videoURL, nil
	v.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) FailAvatarVideo(_ context.Context, predictionID string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Avatars[predictionID]
	if !ok || v.Status == models.AssetCompleted {
		return store.ErrNotFound
	}
	v.Status, v.Error = models.AssetFailed, &msg
	v.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreateCinematographerVideo(_ context.Context, v *models.CinematographerVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("CreateCinematographerVideo"); err != nil {
		return err
	}
	if _, ok := s.Cinemas[v.RequestID]; ok {
		return store.ErrDuplicateKey
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = models.AssetPending
	}
	v.CreatedAt, v.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	cp := *v
	s.Cinemas[v.RequestID] = &cp
	return nil
}

func (s *Store) GetCinematographerVideoByRequest(_ context.Context, requestID string) (*models.CinematographerVideo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("GetCinematographerVideoByRequest"); err != nil {
		return nil, err
	}
	v, ok := s.Cinemas[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) ListCinematographerVideos(_ context.Context, filter store.VideoFilter) ([]*models.CinematographerVideo, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("ListCinematographerVideos"); err != nil {
		return nil, 0, err
	}
	var out []*models.CinematographerVideo
	for _, v := range s.Cinemas {
		if v.UserID != filter.UserID || (filter.Status != "" && v.Status != filter.Status) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Page, filter.Limit), len(out), nil
}

func (s *Store) CompleteCinematographerVideo(_ context.Context, requestID string, videoURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Cinemas[requestID]
	if !ok || v.Status == models.AssetCompleted {
		return store.ErrNotFound
	}
	v.Status, v.VideoURL, v.Error = models.AssetCompleted, &videoURL, nil
	v.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) FailCinematographerVideo(_ context.Context, requestID string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Cinemas[requestID]
	if !ok || v.Status == models.AssetCompleted {
		return store.ErrNotFound
	}
	v.Status, v.Error = models.AssetFailed, &msg
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Prediction Metrics ---

func (s *Store) CreatePredictionMetrics(_ context.Context, m *models.PredictionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("CreatePredictionMetrics"); err != nil {
		return err
	}
	if _, ok := s.Metrics[m.PredictionID]; ok {
		return nil
	}
	cp := *m
	s.Metrics[m.PredictionID] = &cp
	return nil
}

// --- Credits ---

func (s *Store) GetCreditBalance(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("GetCreditBalance"); err != nil {
		return 0, err
	}
	return s.Credits[userID], nil
}

func (s *Store) DeductCredits(_ context.Context, userID uuid.UUID, amount int, operation, reference string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("DeductCredits"); err != nil {
		return 0, err
	}
	balance, ok := s.Credits[userID]
	if !ok || balance < amount {
		return 0, store.ErrInsufficientCredits
	}
	s.Credits[userID] = balance - amount
	s.Ledger = append(s.Ledger, models.CreditEntry{
		ID: uuid.New(), UserID: userID, Amount: -amount, Operation: operation, Reference: reference, CreatedAt: time.Now().UTC(),
	})
	return s.Credits[userID], nil
}

func (s *Store) AddCredits(_ context.Context, userID uuid.UUID, amount int, operation, reference string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("AddCredits"); err != nil {
		return 0, err
	}
	s.Credits[userID] += amount
	s.Ledger = append(s.Ledger, models.CreditEntry{
		ID: uuid.New(), UserID: userID, Amount: amount, Operation: operation, Reference: reference, CreatedAt: time.Now().UTC(),
	})
	return s.Credits[userID], nil
}

// --- Winning Ads & Offers ---

func (s *Store) UpsertWinningAd(_ context.Context, ad *models.WinningAd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("UpsertWinningAd"); err != nil {
		return err
	}
	key := ad.Source + "/" + ad.ExternalID
	if existing, ok := s.Ads[key]; ok {
		ad.ID = existing.ID
	} else if ad.ID == uuid.Nil {
		ad.ID = uuid.New()
	}
	if ad.ScrapedAt.IsZero() {
		ad.ScrapedAt = time.Now().UTC()
	}
	cp := *ad
	s.Ads[key] = &cp
	return nil
}

func (s *Store) ListWinningAds(_ context.Context, filter store.AdFilter) ([]*models.WinningAd, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("ListWinningAds"); err != nil {
		return nil, 0, err
	}
	var matched []*models.WinningAd
	for _, a := range s.Ads {
		if filter.Source != "" && a.Source != filter.Source {
			continue
		}
		if filter.MinCTR > 0 && (a.CTR == nil || *a.CTR < filter.MinCTR) {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		ci, cj := ctrOf(matched[i]), ctrOf(matched[j])
		if ci != cj {
			return ci > cj
		}
		return matched[i].ExternalID < matched[j].ExternalID
	})
	return page(matched, filter.Page, filter.Limit), len(matched), nil
}

func (s *Store) UpsertOffer(_ context.Context, o *models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.err("UpsertOffer"); err != nil {
		return err
	}
	if o.ImportedAt.IsZero() {
		o.ImportedAt = time.Now().UTC()
	}
	cp := *o
	s.Offers[o.ID] = &cp
	return nil
}

func ctrOf(a *models.WinningAd) float64 {
	if a.CTR == nil {
		return -1
	}
	return *a.CTR
}

func page[T any](items []T, pageNum, limit int) []T {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if pageNum <= 0 {
		pageNum = 1
	}
	start := (pageNum - 1) * limit
	if start >= len(items) {
		return nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

var _ store.Store = (*Store)(nil)
