package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mediaforge/mediaforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Users ---

func (s *PostgresStore) EnsureUser(ctx context.Context, id uuid.UUID, email string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET
		   email = CASE WHEN EXCLUDED.email = '' THEN users.email ELSE EXCLUDED.email END,
		   updated_at = NOW()`,
		id, email)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Predictions ---

const predictionColumns = `id, provider, user_id, tool, model, input, status, output, error, error_class,
	created_at, updated_at, completed_at`

func scanPrediction(row rowScanner) (*models.Prediction, error) {
	var (
		p          models.Prediction
		tool       string
		input      []byte
		output     []byte
		errorClass *string
	)
	if err := row.Scan(&p.ID, &p.Provider, &p.UserID, &tool, &p.Model, &input, &p.Status,
		&output, &p.Error, &errorClass, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	p.Tool = models.ToolType(tool)
	p.Input = json.RawMessage(input)
	if len(output) > 0 {
		if err := json.Unmarshal(output, &p.Output); err != nil {
			return nil, fmt.Errorf("decode prediction output: %w", err)
		}
	}
	if errorClass != nil {
		c := models.ErrorClass(*errorClass)
		p.ErrorClass = &c
	}
	return &p, nil
}

func (s *PostgresStore) CreatePrediction(ctx context.Context, p *models.Prediction) error {
	input := []byte(p.Input)
	if len(input) == 0 {
		input = []byte("{}")
	}
	if p.Status == "" {
		p.Status = models.PredictionStarting
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ai_predictions (id, provider, user_id, tool, model, input, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Provider, p.UserID, string(p.Tool), p.Model, input, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("create prediction %s: %w", p.ID, ErrForeignKey)
		}
		return fmt.Errorf("create prediction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	p, err := scanPrediction(s.pool.QueryRow(ctx,
		`SELECT `+predictionColumns+` FROM ai_predictions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]*models.Prediction, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.Tool != "" {
		conditions = append(conditions, fmt.Sprintf("tool = $%d", argIdx))
		args = append(args, string(filter.Tool))
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ai_predictions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count predictions: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM ai_predictions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		predictionColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []*models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// ListPendingPredictions returns the provider's jobs still in starting or
// processing, oldest first.
func (s *PostgresStore) ListPendingPredictions(ctx context.Context, provider string) ([]*models.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionColumns+` FROM ai_predictions
		 WHERE provider = $1 AND status IN ('starting', 'processing')
		 ORDER BY created_at ASC`, provider)
	if err != nil {
		return nil, fmt.Errorf("list pending predictions: %w", err)
	}
	defer rows.Close()

	var out []*models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var validTransitions = map[string][]string{
	models.PredictionStarting: {
		models.PredictionStarting, models.PredictionProcessing,
		models.PredictionSucceeded, models.PredictionFailed, models.PredictionCanceled,
	},
	models.PredictionProcessing: {
		models.PredictionProcessing,
		models.PredictionSucceeded, models.PredictionFailed, models.PredictionCanceled,
	},
}

// UpdatePrediction moves a prediction to status. Terminal predictions are
// never rewritten; ErrInvalidTransition is returned instead.
func (s *PostgresStore) UpdatePrediction(ctx context.Context, id string, status string, opts ...PredictionUpdateOption) error {
	params := ApplyPredictionUpdateOptions(opts...)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM ai_predictions WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get prediction status: %w", err)
	}

	valid := false
	for _, a := range validTransitions[currentStatus] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE ai_predictions SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if models.IsTerminalStatus(status) {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.Output != nil {
		encoded, err := json.Marshal(params.Output)
		if err != nil {
			return fmt.Errorf("encode prediction output: %w", err)
		}
		query += fmt.Sprintf(", output = $%d", argIdx)
		args = append(args, encoded)
		argIdx++
	}
	if params.Error != nil {
		query += fmt.Sprintf(", error = $%d, error_class = $%d", argIdx, argIdx+1)
		args = append(args, *params.Error, string(*params.ErrorClass))
		argIdx += 2
	}

	// The status guard closes the race between the read above and this write.
	query += " WHERE id = $1 AND status NOT IN ('succeeded', 'failed', 'canceled')"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update prediction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: prediction %s already terminal", ErrInvalidTransition, id)
	}
	return nil
}

// --- Generated Assets ---

// CreateGeneratedAsset inserts one output variation. It returns false when
// the variation was already recorded.
func (s *PostgresStore) CreateGeneratedAsset(ctx context.Context, a *models.GeneratedAsset) (bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO generated_assets (id, prediction_id, user_id, tool, variation_index, storage_key,
		   public_url, content_type, source_url, prompt, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (prediction_id, variation_index) DO NOTHING`,
		a.ID, a.PredictionID, a.UserID, string(a.Tool), a.VariationIndex, a.StorageKey,
		a.PublicURL, a.ContentType, a.SourceURL, a.Prompt, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create generated asset: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const assetColumns = `id, prediction_id, user_id, tool, variation_index, storage_key, public_url,
	content_type, source_url, prompt, created_at`

func scanAsset(row rowScanner) (*models.GeneratedAsset, error) {
	var (
		a    models.GeneratedAsset
		tool string
	)
	if err := row.Scan(&a.ID, &a.PredictionID, &a.UserID, &tool, &a.VariationIndex, &a.StorageKey,
		&a.PublicURL, &a.ContentType, &a.SourceURL, &a.Prompt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Tool = models.ToolType(tool)
	return &a, nil
}

func (s *PostgresStore) ListAssetsByPrediction(ctx context.Context, predictionID string) ([]*models.GeneratedAsset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assetColumns+` FROM generated_assets WHERE prediction_id = $1 ORDER BY variation_index`, predictionID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.GeneratedAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// ListAssetsByUser returns a page of the user's stored outputs, newest first.
func (s *PostgresStore) ListAssetsByUser(ctx context.Context, filter AssetFilter) ([]*models.GeneratedAsset, int, error) {
	where := "user_id = $1"
	args := []any{filter.UserID}
	if filter.Tool != "" {
		where += " AND tool = $2"
		args = append(args, string(filter.Tool))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM generated_assets WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM generated_assets WHERE %s
		ORDER BY created_at DESC, variation_index LIMIT $%d OFFSET $%d`,
		assetColumns, where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list user assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.GeneratedAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, total, rows.Err()
}

// --- Avatar Videos ---

func (s *PostgresStore) CreateAvatarVideo(ctx context.Context, v *models.AvatarVideo) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	if v.Status == "" {
		v.Status = models.AssetPending
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO avatar_videos (id, user_id, prediction_id, script, voice, audio_url, status, credit_cost, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.UserID, v.PredictionID, v.Script, v.Voice, v.AudioURL, v.Status, v.CreditCost, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create avatar video: %w", err)
	}
	return nil
}

const avatarColumns = `id, user_id, prediction_id, script, voice, audio_url, video_url, status,
	credit_cost, error, created_at, updated_at`

func scanAvatarVideo(row rowScanner) (*models.AvatarVideo, error) {
	var v models.AvatarVideo
	if err := row.Scan(&v.ID, &v.UserID, &v.PredictionID, &v.Script, &v.Voice, &v.AudioURL, &v.VideoURL,
		&v.Status, &v.CreditCost, &v.Error, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) GetAvatarVideoByPrediction(ctx context.Context, predictionID string) (*models.AvatarVideo, error) {
	v, err := scanAvatarVideo(s.pool.QueryRow(ctx,
		`SELECT `+avatarColumns+` FROM avatar_videos WHERE prediction_id = $1`, predictionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get avatar video: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListAvatarVideos(ctx context.Context, filter VideoFilter) ([]*models.AvatarVideo, int, error) {
	where, args := videoWhere(filter)
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM avatar_videos WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count avatar videos: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM avatar_videos WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		avatarColumns, where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list avatar videos: %w", err)
	}
	defer rows.Close()

	var out []*models.AvatarVideo
	for rows.Next() {
		v, err := scanAvatarVideo(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan avatar video: %w", err)
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) CompleteAvatarVideo(ctx context.Context, predictionID string, videoURL string) error {
	return s.finishAsset(ctx, "avatar_videos", "prediction_id", predictionID, models.AssetCompleted, &videoURL, nil)
}

func (s *PostgresStore) FailAvatarVideo(ctx context.Context, predictionID string, msg string) error {
	return s.finishAsset(ctx, "avatar_videos", "prediction_id", predictionID, models.AssetFailed, nil, &msg)
}

// --- Cinematographer Videos ---

func (s *PostgresStore) CreateCinematographerVideo(ctx context.Context, v *models.CinematographerVideo) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	if v.Status == "" {
		v.Status = models.AssetPending
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cinematographer_videos (id, user_id, request_id, prompt, model, status, credit_cost, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.UserID, v.RequestID, v.Prompt, v.Model, v.Status, v.CreditCost, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create cinematographer video: %w", err)
	}
	return nil
}

const cinematographerColumns = `id, user_id, request_id, prompt, model, video_url, status, credit_cost,
	error, created_at, updated_at`

func scanCinematographerVideo(row rowScanner) (*models.CinematographerVideo, error) {
	var v models.CinematographerVideo
	if err := row.Scan(&v.ID, &v.UserID, &v.RequestID, &v.Prompt, &v.Model, &v.VideoURL,
		&v.Status, &v.CreditCost, &v.Error, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) GetCinematographerVideoByRequest(ctx context.Context, requestID string) (*models.CinematographerVideo, error) {
	v, err := scanCinematographerVideo(s.pool.QueryRow(ctx,
		`SELECT `+cinematographerColumns+` FROM cinematographer_videos WHERE request_id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cinematographer video: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListCinematographerVideos(ctx context.Context, filter VideoFilter) ([]*models.CinematographerVideo, int, error) {
	where, args := videoWhere(filter)
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM cinematographer_videos WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cinematographer videos: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(`SELECT %s FROM cinematographer_videos WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		cinematographerColumns, where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list cinematographer videos: %w", err)
	}
	defer rows.Close()

	var out []*models.CinematographerVideo
	for rows.Next() {
		v, err := scanCinematographerVideo(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan cinematographer video: %w", err)
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func videoWhere(filter VideoFilter) (string, []any) {
	where := "user_id = $1"
	args := []any{filter.UserID}
	if filter.Status != "" {
		where += " AND status = $2"
		args = append(args, filter.Status)
	}
	return where, args
}

func (s *PostgresStore) CompleteCinematographerVideo(ctx context.Context, requestID string, videoURL string) error {
	return s.finishAsset(ctx, "cinematographer_videos", "request_id", requestID, models.AssetCompleted, &videoURL, nil)
}

func (s *PostgresStore) FailCinematographerVideo(ctx context.Context, requestID string, msg string) error {
	return s.finishAsset(ctx, "cinematographer_videos", "request_id", requestID, models.AssetFailed, nil, &msg)
}

// finishAsset moves a placeholder row to a final status. Rows already
// completed keep their video URL.
func (s *PostgresStore) finishAsset(ctx context.Context, table, keyColumn, key, status string, videoURL, msg *string) error {
	query := fmt.Sprintf(
		`UPDATE %s SET status = $2, video_url = COALESCE($3, video_url), error = $4, updated_at = NOW()
		 WHERE %s = $1 AND status <> 'completed'`, table, keyColumn)
	tag, err := s.pool.Exec(ctx, query, key, status, videoURL, msg)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Prediction Metrics ---

func (s *PostgresStore) CreatePredictionMetrics(ctx context.Context, m *models.PredictionMetrics) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prediction_metrics (prediction_id, tool, status, predict_time_seconds, outputs_total,
		   outputs_stored, outputs_failed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (prediction_id) DO NOTHING`,
		m.PredictionID, string(m.Tool), m.Status, m.PredictTime, m.OutputsTotal,
		m.OutputsStored, m.OutputsFailed, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create prediction metrics: %w", err)
	}
	return nil
}

// --- Credits ---

func (s *PostgresStore) GetCreditBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx, `SELECT balance FROM user_credits WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get credit balance: %w", err)
	}
	return balance, nil
}

// DeductCredits spends amount through the deduct_credits database function
// and returns the new balance.
func (s *PostgresStore) DeductCredits(ctx context.Context, userID uuid.UUID, amount int, operation, reference string) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx, `SELECT deduct_credits($1, $2, $3, $4)`,
		userID, amount, operation, reference).Scan(&balance)
	if isInsufficientCreditsError(err) {
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}
	return balance, nil
}

// AddCredits grants or refunds credits and records the ledger entry.
func (s *PostgresStore) AddCredits(ctx context.Context, userID uuid.UUID, amount int, operation, reference string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin add credits: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var balance int
	err = tx.QueryRow(ctx,
		`INSERT INTO user_credits (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = user_credits.balance + EXCLUDED.balance, updated_at = NOW()
		 RETURNING balance`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_ledger (user_id, amount, operation, reference) VALUES ($1, $2, $3, $4)`,
		userID, amount, operation, reference); err != nil {
		return 0, fmt.Errorf("record credit ledger: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit add credits: %w", err)
	}
	return balance, nil
}

// --- Winning Ads ---

func (s *PostgresStore) UpsertWinningAd(ctx context.Context, ad *models.WinningAd) error {
	if ad.ID == uuid.Nil {
		ad.ID = uuid.New()
	}
	if ad.ScrapedAt.IsZero() {
		ad.ScrapedAt = time.Now().UTC()
	}
	raw := []byte(ad.Raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO winning_ads (id, source, external_id, title, advertiser, media_url, landing_url,
		   ctr, likes, impressions, badge, raw, scraped_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (source, external_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   advertiser = EXCLUDED.advertiser,
		   media_url = EXCLUDED.media_url,
		   landing_url = EXCLUDED.landing_url,
		   ctr = EXCLUDED.ctr,
		   likes = EXCLUDED.likes,
		   impressions = EXCLUDED.impressions,
		   badge = EXCLUDED.badge,
		   raw = EXCLUDED.raw,
		   scraped_at = EXCLUDED.scraped_at`,
		ad.ID, ad.Source, ad.ExternalID, ad.Title, ad.Advertiser, ad.MediaURL, ad.LandingURL,
		ad.CTR, ad.Likes, ad.Impressions, ad.Badge, raw, ad.ScrapedAt)
	if err != nil {
		return fmt.Errorf("upsert winning ad: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWinningAds(ctx context.Context, filter AdFilter) ([]*models.WinningAd, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, filter.Source)
		argIdx++
	}
	if filter.MinCTR > 0 {
		conditions = append(conditions, fmt.Sprintf("ctr >= $%d", argIdx))
		args = append(args, filter.MinCTR)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM winning_ads WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count winning ads: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)
	query := fmt.Sprintf(
		`SELECT id, source, external_id, title, advertiser, media_url, landing_url, ctr, likes, impressions, badge, scraped_at
		 FROM winning_ads WHERE %s ORDER BY ctr DESC NULLS LAST, scraped_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list winning ads: %w", err)
	}
	defer rows.Close()

	var ads []*models.WinningAd
	for rows.Next() {
		var a models.WinningAd
		if err := rows.Scan(&a.ID, &a.Source, &a.ExternalID, &a.Title, &a.Advertiser, &a.MediaURL,
			&a.LandingURL, &a.CTR, &a.Likes, &a.Impressions, &a.Badge, &a.ScrapedAt); err != nil {
			return nil, 0, fmt.Errorf("scan winning ad: %w", err)
		}
		ads = append(ads, &a)
	}
	return ads, total, rows.Err()
}

// --- Offers ---

func (s *PostgresStore) UpsertOffer(ctx context.Context, o *models.Offer) error {
	if o.ImportedAt.IsZero() {
		o.ImportedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO offers (id, vendor, title, category_main, category_sub, gravity, avg_payout, imported_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   vendor = EXCLUDED.vendor,
		   title = EXCLUDED.title,
		   category_main = EXCLUDED.category_main,
		   category_sub = EXCLUDED.category_sub,
		   gravity = EXCLUDED.gravity,
		   avg_payout = EXCLUDED.avg_payout,
		   imported_at = EXCLUDED.imported_at`,
		o.ID, o.Vendor, o.Title, o.CategoryMain, o.CategorySub, o.Gravity, o.AvgPayout, o.ImportedAt)
	if err != nil {
		return fmt.Errorf("upsert offer: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// isInsufficientCreditsError matches the exception raised by deduct_credits.
func isInsufficientCreditsError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "P0001" && strings.Contains(pgErr.Message, "insufficient_credits")
	}
	return false
}
