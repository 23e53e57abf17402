package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/handlers"
	"github.com/mpnag/discipline/internal/metrics"
	"github.com/mpnag/discipline/internal/middleware"
	"github.com/mpnag/discipline/internal/models"
	"github.com/mpnag/discipline/internal/ratelimit"
	pkghttp "github.com/mpnag/discipline/pkg/http"
)

// RateLimitRules are the fixed-window rules applied to the public auth endpoints
type RateLimitRules struct {
	Login         ratelimit.Rule
	Refresh       ratelimit.Rule
	ResetRequest  ratelimit.Rule
	ResetPassword ratelimit.Rule
}

// FeatureRoute mounts an application route behind the authentication and role gates.
// An empty Roles slice admits any authenticated account.
type FeatureRoute struct {
	Method  string
	Pattern string
	Roles   []models.Role
	Handler http.Handler
}

// Dependencies groups everything the router needs
type Dependencies struct {
	AuthHandler  *handlers.AuthHandler
	TokenManager *auth.TokenManager
	// Accounts enables the live account check on every authenticated request. Nil disables it.
	Accounts               auth.AccountFetcher
	Limiter                *ratelimit.Limiter
	Rules                  RateLimitRules
	AuthenticatedPerMinute int
	IPConfig               *pkghttp.IPConfig
	Health                 handlers.Pinger
	Metrics                *metrics.Metrics
	Logger                 *slog.Logger
	Env                    string
	AllowedOrigins         []string
	RequestTimeout         time.Duration
	Features               []FeatureRoute
}

// NewRouter builds the chi router with the shared middleware stack and all routes
func NewRouter(deps Dependencies) chi.Router {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 60 * time.Second
	}

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: deps.Env}))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(deps.AllowedOrigins)))
	router.Use(middleware.SecureLogger(deps.Logger, deps.IPConfig))
	router.Use(deps.Metrics.Instrument)
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.Timeout(deps.RequestTimeout))

	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	h := deps.AuthHandler
	byIP := middleware.ClientIPKey(deps.IPConfig)
	limit := func(rule ratelimit.Rule) func(http.Handler) http.Handler {
		return middleware.FixedWindow(deps.Limiter, rule, byIP, deps.Logger, deps.Metrics)
	}

	if deps.Health != nil {
		router.Get("/health", handlers.Health(deps.Health))
	}
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Public routes - no authentication required
	router.With(limit(deps.Rules.Login)).Post("/auth/login", h.Login)
	router.With(limit(deps.Rules.Refresh)).Post("/auth/refresh", h.Refresh)
	router.With(limit(deps.Rules.ResetRequest)).Post("/auth/request-reset", h.RequestReset)
	router.With(limit(deps.Rules.ResetPassword)).Post("/auth/reset-password", h.ResetPassword)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(deps.TokenManager, deps.Accounts, deps.Logger))
		if deps.AuthenticatedPerMinute > 0 {
			r.Use(middleware.RateLimitByAccount(deps.AuthenticatedPerMinute, deps.IPConfig, deps.Metrics))
		}

		r.Get("/auth/me", h.Me)
		r.Get("/auth/sessions", h.Sessions)
		r.Post("/auth/logout", h.Logout)
		r.Post("/auth/logout-all", h.LogoutAll)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Post("/admin/accounts/{id}/revoke-sessions", h.RevokeSessions)
		})

		for _, f := range deps.Features {
			route := r
			if len(f.Roles) > 0 {
				route = r.With(auth.RequireRole(f.Roles...))
			}
			route.Method(f.Method, f.Pattern, f.Handler)
		}
	})
}
