package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/models"
	"github.com/mpnag/discipline/internal/services"
	pkghttp "github.com/mpnag/discipline/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, identifier, password, clientIP, userAgent string) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, accountID, refreshToken string) error
	LogoutAll(ctx context.Context, accountID string) (int64, error)
	ListSessions(ctx context.Context, accountID string) ([]models.Session, error)
	RevokeAccountSessions(ctx context.Context, actor *models.TokenClaims, accountID string) (int64, error)
	Me(ctx context.Context, accountID string) (*models.AccountSummary, error)
}

// PasswordResetServiceInterface defines the password reset flow
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email string) *services.ResetRequestResult
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	resets   PasswordResetServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewAuthHandler(service AuthServiceInterface, resets PasswordResetServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:  service,
		resets:   resets,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=256"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=512"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"max=512"`
}

type RequestResetRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=512"`
	NewPassword string `json:"newPassword" validate:"required,max=256"`
}

// Response DTOs

type OKResponse struct {
	OK bool `json:"ok"`
}

type RequestResetResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
}

type RevokedResponse struct {
	OK      bool  `json:"ok"`
	Revoked int64 `json:"revoked"`
}

type SessionsResponse struct {
	Sessions []models.Session `json:"sessions"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)
	resp, err := h.service.Login(r.Context(), req.Identifier, req.Password, clientIP, r.UserAgent())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		// a missing token is an authentication failure, not a malformed request
		pkghttp.WriteUnauthorized(w, "invalid refresh token")
		return
	}

	resp, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// RequestReset handles POST /auth/request-reset. The response does not reveal
// whether the email belongs to an account.
func (h *AuthHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req RequestResetRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	result := h.resets.RequestReset(r.Context(), req.Email)

	resp := RequestResetResponse{OK: true}
	if result != nil {
		resp.Token = result.Token
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ResetPassword handles POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	if err := h.resets.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	summary, err := h.service.Me(r.Context(), claims.AccountID())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, summary)
}

// Sessions handles GET /auth/sessions
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), claims.AccountID())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// Logout handles POST /auth/logout. The body is optional.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	var req LogoutRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	if err := h.service.Logout(r.Context(), claims.AccountID(), req.RefreshToken); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, OKResponse{OK: true})
}

// LogoutAll handles POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	revoked, err := h.service.LogoutAll(r.Context(), claims.AccountID())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{OK: true, Revoked: revoked})
}

// RevokeSessions handles POST /admin/accounts/{id}/revoke-sessions
func (h *AuthHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "account id is required")
		return
	}

	revoked, err := h.service.RevokeAccountSessions(r.Context(), auth.GetClaims(r.Context()), accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RevokedResponse{OK: true, Revoked: revoked})
}

// writeServiceError maps service sentinels to status codes. Messages are generic;
// unexpected errors are logged and reported as 500.
func (h *AuthHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rateErr  *models.RateLimitError
		validErr *models.ValidationError
	)

	switch {
	case errors.As(err, &validErr):
		pkghttp.WriteValidationError(w, validErr.Error())
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteValidationError(w, "invalid request")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "invalid credentials")
	case errors.Is(err, models.ErrInvalidRefreshToken):
		pkghttp.WriteUnauthorized(w, "invalid refresh token")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "authentication required")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "insufficient permissions")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "not found")
	case errors.Is(err, models.ErrInvalidOrExpiredResetToken):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_reset_token", "invalid or expired reset token")
	case errors.As(err, &rateErr):
		pkghttp.WriteTooManyRequests(w, "too many requests", rateErr.RetryAfterSeconds())
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "internal server error")
	}
}
