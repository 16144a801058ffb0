package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mediaforge/mediaforge/internal/api/response"
	"github.com/mediaforge/mediaforge/internal/cache"
)

const (
	defaultRequestsPerMinute    = 60
	defaultGenerationsPerMinute = 10
	rateWindow                  = time.Minute
	generationsPath             = "/api/v1/generations/"
)

// RateLimit counts requests per subject in fixed one-minute windows. Job
// submissions spend credits and provider quota, so they are counted in a
// separate, smaller bucket.
type RateLimit struct {
	cache             cache.Cache
	requestsPerMin    int
	generationsPerMin int
}

// RateLimitOption customises a RateLimit.
type RateLimitOption func(*RateLimit)

// WithGenerationLimit sets the per-minute budget for job submissions.
func WithGenerationLimit(n int) RateLimitOption {
	return func(rl *RateLimit) {
		if n > 0 {
			rl.generationsPerMin = n
		}
	}
}

func NewRateLimit(c cache.Cache, requestsPerMin int, opts ...RateLimitOption) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	rl := &RateLimit{cache: c, requestsPerMin: requestsPerMin, generationsPerMin: defaultGenerationsPerMinute}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

func (rl *RateLimit) bucket(r *http.Request) (string, int) {
	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, generationsPath) {
		return cache.BucketGenerations, rl.generationsPerMin
	}
	return cache.BucketAPI, rl.requestsPerMin
}

// Limit applies rate limiting to the subject set by the auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := getSubject(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		bucket, limit := rl.bucket(r)
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(bucket, subject), rateWindow)
		if err != nil {
			// fail open
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(limit-int(count), 0)
		w.Header().Set("X-RateLimit-Bucket", bucket)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))

		if count > int64(limit) {
			msg := "Too many requests"
			if bucket == cache.BucketGenerations {
				msg = "Too many generation requests"
			}
			response.RetryLater(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", msg, rateWindow)
			return
		}

		next.ServeHTTP(w, r)
	})
}
