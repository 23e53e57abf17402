package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/metrics"
	"github.com/mpnag/discipline/internal/models"
	"github.com/mpnag/discipline/internal/ratelimit"
	pkghttp "github.com/mpnag/discipline/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestFixedWindow_RejectsOverLimitWithRetryAfter(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	rule := ratelimit.Rule{Name: "login", Max: 2, Window: time.Minute}
	h := FixedWindow(limiter, rule, ClientIPKey(nil), discardLogger, metrics.New())(okHandler())

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, request("203.0.113.5:1000"))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, request("203.0.113.5:1001"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	var body pkghttp.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.GreaterOrEqual(t, body.RetryAfterSeconds, 1)
	assert.LessOrEqual(t, body.RetryAfterSeconds, 60)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, request("198.51.100.9:1000"))
	assert.Equal(t, http.StatusOK, rr.Code, "other clients keep their own budget")
}

func TestFixedWindow_SpoofedForwardedForIgnored(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	rule := ratelimit.Rule{Name: "login", Max: 1, Window: time.Minute}
	h := FixedWindow(limiter, rule, ClientIPKey(nil), discardLogger, nil)(okHandler())

	first := request("203.0.113.5:1000")
	first.Header.Set("X-Forwarded-For", "1.1.1.1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, first)
	require.Equal(t, http.StatusOK, rr.Code)

	second := request("203.0.113.5:1000")
	second.Header.Set("X-Forwarded-For", "2.2.2.2")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, second)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

type brokenStore struct{}

func (brokenStore) Hit(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("store down")
}

func TestFixedWindow_FailsOpenOnStoreError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	limiter := ratelimit.NewLimiter(brokenStore{})
	rule := ratelimit.Rule{Name: "refresh", Max: 1, Window: time.Minute}
	h := FixedWindow(limiter, rule, ClientIPKey(nil), logger, nil)(okHandler())

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, request("203.0.113.5:1000"))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	assert.Contains(t, logs.String(), "rate limit check failed")
}

func TestRateLimitByAccount_KeysByAccount(t *testing.T) {
	h := RateLimitByAccount(1, nil, nil)(okHandler())

	reqFor := func(accountID string) *http.Request {
		req := request("203.0.113.5:1000")
		claims := &models.TokenClaims{Type: models.TokenTypeAccess}
		claims.Subject = accountID
		return req.WithContext(auth.WithClaims(req.Context(), claims))
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, reqFor("account-a"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, reqFor("account-a"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, reqFor("account-b"))
	assert.Equal(t, http.StatusOK, rr.Code, "same IP, different account")
}
