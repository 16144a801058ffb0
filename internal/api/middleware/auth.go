package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/mediaforge/mediaforge/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

var errInvalidToken = errors.New("invalid token")

// SupabaseClaims are the claims of a Supabase access token.
type SupabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Auth authenticates requests with either a Supabase access token (HS256)
// or an API key.
type Auth struct {
	store     store.Store
	jwtSecret []byte
	logger    zerolog.Logger
}

// NewAuth creates a new Auth middleware. An empty jwtSecret disables
// Supabase tokens; API keys keep working.
func NewAuth(s store.Store, jwtSecret string, logger zerolog.Logger) *Auth {
	return &Auth{store: s, jwtSecret: []byte(jwtSecret), logger: logger}
}

// Authenticate validates the Bearer token and sets the user id, rate-limit
// subject and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if strings.Count(raw, ".") == 2 {
			ctx, err := a.authenticateJWT(r.Context(), raw)
			if err != nil {
				if errors.Is(err, errInvalidToken) {
					response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid access token", nil)
					return
				}
				a.logger.Error().Err(err).Msg("ensuring user")
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate access token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if len(raw) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}
		prefix := raw[:keyPrefixLen]

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) != nil {
				continue
			}
			ctx := r.Context()
			ctx = SetUserID(ctx, key.UserID)
			ctx = setSubject(ctx, prefix)
			ctx = setScopes(ctx, key.Scopes)

			go func(id uuid.UUID) {
				if err := a.store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
					a.logger.Warn().Err(err).Str("key_id", id.String()).Msg("updating api key last use")
				}
			}(key.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
	})
}

func (a *Auth) authenticateJWT(ctx context.Context, raw string) (context.Context, error) {
	if len(a.jwtSecret) == 0 {
		return nil, errInvalidToken
	}
	claims := &SupabaseClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		a.logger.Debug().Err(err).Msg("rejected access token")
		return nil, errInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a uuid", errInvalidToken)
	}
	if err := a.store.EnsureUser(ctx, userID, claims.Email); err != nil {
		return nil, err
	}

	scopes := []string{ScopeUser}
	if claims.Role == "service_role" {
		scopes = append(scopes, ScopeAdmin)
	}
	ctx = SetUserID(ctx, userID)
	ctx = setSubject(ctx, userID.String())
	return setScopes(ctx, scopes), nil
}

// RequireScope returns middleware that checks whether the authenticated
// caller has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range getScopes(r) {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

// IssueToken signs a Supabase-style access token. Used by tests and local
// tooling.
func IssueToken(secret string, userID uuid.UUID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SupabaseClaims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
