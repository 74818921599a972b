package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelabs/launchpad/internal/domain"
)

// fakeLimiter returns a fixed decision and records the keys it saw.
type fakeLimiter struct {
	decision domain.RateDecision
	err      error
	keys     []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (domain.RateDecision, error) {
	f.keys = append(f.keys, key)
	return f.decision, f.err
}

func serveWith(t *testing.T, limiter domain.RateLimiter) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	RateLimit(limiter, 100, time.Minute)(next).ServeHTTP(rec, req)
	return rec, called
}

func TestRateLimitAllowedSetsHeaders(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)
	limiter := &fakeLimiter{decision: domain.RateDecision{
		Allowed: true, Limit: 100, Remaining: 57, ResetAt: reset,
	}}

	rec, called := serveWith(t, limiter)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "57", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(reset.Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))

	require.Len(t, limiter.keys, 1)
	assert.Equal(t, "ratelimit:api:10.1.2.3", limiter.keys[0], "key is the client IP without port")
}

func TestRateLimitDeniedReturns429(t *testing.T) {
	limiter := &fakeLimiter{decision: domain.RateDecision{
		Allowed: false, Limit: 100, Remaining: 0, ResetAt: time.Now().Add(45 * time.Second),
	}}

	rec, called := serveWith(t, limiter)

	assert.False(t, called, "denied requests never reach the handler")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
}

func TestRateLimitDeniedWithPastResetStillWaitsOneSecond(t *testing.T) {
	limiter := &fakeLimiter{decision: domain.RateDecision{
		Allowed: false, Limit: 100, ResetAt: time.Now().Add(-time.Second),
	}}

	rec, _ := serveWith(t, limiter)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis: connection refused")}

	rec, called := serveWith(t, limiter)

	assert.True(t, called, "limiter outages must not block traffic")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitKeysOnForwardedFor(t *testing.T) {
	limiter := &fakeLimiter{decision: domain.RateDecision{Allowed: true, Limit: 100, Remaining: 99, ResetAt: time.Now()}}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	RateLimit(limiter, 100, time.Minute)(next).ServeHTTP(rec, req)

	require.Len(t, limiter.keys, 1)
	assert.Equal(t, "ratelimit:api:203.0.113.9", limiter.keys[0])
}
