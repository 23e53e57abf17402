package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/mpnag/discipline/internal/models"
	pkghttp "github.com/mpnag/discipline/pkg/http"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// AccountFetcher loads the current state of an account
type AccountFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// Authenticate verifies the bearer token and stores its claims in the request context.
// When accounts is non-nil the account is re-read on every request: a deleted account
// is rejected, the stored role replaces the role in the token, and tokens minted for an
// earlier password are refused. Store failures fail closed with a 500.
func Authenticate(tm *TokenManager, accounts AccountFetcher, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := tm.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or missing access token")
				return
			}

			if accounts != nil {
				account, err := accounts.GetByID(r.Context(), claims.AccountID())
				if err != nil {
					if errors.Is(err, models.ErrNotFound) {
						pkghttp.WriteUnauthorized(w, "invalid or missing access token")
						return
					}
					logger.ErrorContext(r.Context(), "live account check failed",
						slog.String("account_id", claims.AccountID()),
						slog.String("error", err.Error()),
					)
					pkghttp.WriteInternalError(w, "internal server error")
					return
				}

				if claims.PasswordStamp != account.PasswordStamp() {
					pkghttp.WriteUnauthorized(w, "invalid or missing access token")
					return
				}

				live := *claims
				live.Role = account.Role
				live.Username = account.Username
				claims = &live
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// CheckRole reports whether claims carry one of the allowed roles. It performs no I/O.
func CheckRole(claims *models.TokenClaims, allowed ...models.Role) error {
	if claims == nil {
		return models.ErrUnauthorized
	}
	if slices.Contains(allowed, claims.Role) {
		return nil
	}
	return models.ErrForbidden
}

// RequireRole rejects requests whose claims do not carry one of roles.
// It must be mounted after Authenticate.
func RequireRole(roles ...models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch err := CheckRole(GetClaims(r.Context()), roles...); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, models.ErrUnauthorized):
				pkghttp.WriteUnauthorized(w, "authentication required")
			default:
				pkghttp.WriteForbidden(w, "insufficient permissions")
			}
		})
	}
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaims returns the authenticated claims, or nil outside Authenticate
func GetClaims(ctx context.Context) *models.TokenClaims {
	claims, _ := ctx.Value(claimsContextKey).(*models.TokenClaims)
	return claims
}
