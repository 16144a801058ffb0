package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	userIDKey       contextKey = "user_id"
	subjectKey      contextKey = "rate_subject"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// Scopes granted to callers.
const (
	ScopeUser  = "user"
	ScopeAdmin = "admin"
)

func SetUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func GetUserID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(userIDKey).(uuid.UUID)
	return id, ok
}

// setSubject records who the request is rate limited as: an API key prefix
// or a user id.
func setSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

func getSubject(r *http.Request) (string, bool) {
	s, ok := r.Context().Value(subjectKey).(string)
	return s, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// WithIdentity sets the authenticated identity on ctx. Tests use it to call
// protected handlers directly.
func WithIdentity(ctx context.Context, userID uuid.UUID, scopes ...string) context.Context {
	ctx = SetUserID(ctx, userID)
	ctx = setSubject(ctx, userID.String())
	return setScopes(ctx, scopes)
}
