package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/metrics"
	"github.com/mpnag/discipline/internal/models"
	"github.com/mpnag/discipline/internal/ratelimit"
	pkghttp "github.com/mpnag/discipline/pkg/http"
)

// KeyFunc derives the rate-limit bucket key from a request
type KeyFunc func(r *http.Request) string

// ClientIPKey keys requests by client IP, honouring forwarded headers only from trusted proxies
func ClientIPKey(ipConfig *pkghttp.IPConfig) KeyFunc {
	return func(r *http.Request) string {
		return pkghttp.ExtractClientIP(r, ipConfig)
	}
}

// FixedWindow enforces rule per key. Rejections get a 429 with Retry-After.
// If the store fails the request is let through and the failure is logged.
func FixedWindow(limiter *ratelimit.Limiter, rule ratelimit.Rule, keyFunc KeyFunc, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := limiter.Allow(r.Context(), rule, keyFunc(r))
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var rle *models.RateLimitError
			if errors.As(err, &rle) {
				m.RateLimited(rule.Name)
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("rule", rule.Name),
					slog.String("path", r.URL.Path),
					slog.Int("retry_after_seconds", rle.RetryAfterSeconds()),
				)
				pkghttp.WriteTooManyRequests(w, "too many requests, please try again later", rle.RetryAfterSeconds())
				return
			}

			logger.ErrorContext(r.Context(), "rate limit check failed, allowing request",
				slog.String("rule", rule.Name),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByAccount applies a sliding per-account budget to authenticated routes.
// Requests without claims fall back to the client IP.
func RateLimitByAccount(requestsPerMinute int, ipConfig *pkghttp.IPConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetClaims(r.Context()); claims != nil {
				return "account:" + claims.AccountID(), nil
			}
			return "ip:" + pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			m.RateLimited("authenticated")
			retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
			if err != nil {
				retryAfter = 60
			}
			pkghttp.WriteTooManyRequests(w, "too many requests, please try again later", retryAfter)
		}),
	)
}
