package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/metrics"
	"github.com/mpnag/discipline/internal/models"
	pkgauth "github.com/mpnag/discipline/pkg/auth"
	pkglogger "github.com/mpnag/discipline/pkg/logger"
)

// AuthResponse is returned by login and refresh
type AuthResponse struct {
	AccessToken  string                 `json:"accessToken"`
	RefreshToken string                 `json:"refreshToken"`
	Account      *models.AccountSummary `json:"account"`
}

// AuthService handles login, refresh token rotation and session revocation
type AuthService struct {
	accounts      AccountRepository
	refreshTokens RefreshTokenRepository
	hasher        *pkgauth.Hasher
	tm            *auth.TokenManager
	timing        *auth.TimingDelay
	refreshTTL    time.Duration
	logger        *slog.Logger
	auditLogger   *pkglogger.AuditLogger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewAuthService(
	accounts AccountRepository,
	refreshTokens RefreshTokenRepository,
	hasher *pkgauth.Hasher,
	tm *auth.TokenManager,
	timing *auth.TimingDelay,
	refreshTTL time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *AuthService {
	return &AuthService{
		accounts:      accounts,
		refreshTokens: refreshTokens,
		hasher:        hasher,
		tm:            tm,
		timing:        timing,
		refreshTTL:    refreshTTL,
		logger:        logger,
		auditLogger:   auditLogger,
		metrics:       m,
		now:           time.Now,
	}
}

// Login checks the identifier (username or email) and password and opens a new session.
// Unknown identifiers and wrong passwords both yield models.ErrInvalidCredentials after
// the same hashing work and timing padding.
func (s *AuthService) Login(ctx context.Context, identifier, password, clientIP, userAgent string) (*AuthResponse, error) {
	start := time.Now()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, models.NewValidationError("identifier", "is required")
	}
	if password == "" {
		return nil, models.NewValidationError("password", "is required")
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to look up account for login", slog.Any("error", err))
			s.metrics.Login(metrics.OutcomeError)
			return nil, models.ErrStoreUnavailable
		}
		s.hasher.CompareDummy(password)
		s.loginFailed(ctx, start, "", clientIP, userAgent)
		return nil, models.ErrInvalidCredentials
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		s.loginFailed(ctx, start, account.ID, clientIP, userAgent)
		return nil, models.ErrInvalidCredentials
	}

	resp, err := s.openSession(ctx, account)
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return nil, err
	}

	s.logger.InfoContext(ctx, "account logged in", slog.String("account_id", account.ID))
	s.auditLogger.LogLogin(ctx, account.ID, clientIP, userAgent, true, "")
	s.metrics.Login(metrics.OutcomeSuccess)
	s.timing.WaitFrom(ctx, start, true)

	return resp, nil
}

func (s *AuthService) loginFailed(ctx context.Context, start time.Time, accountID, clientIP, userAgent string) {
	s.logger.InfoContext(ctx, "login failed: invalid credentials")
	s.auditLogger.LogLogin(ctx, accountID, clientIP, userAgent, false, "invalid_credentials")
	s.metrics.Login(metrics.OutcomeFailure)
	s.timing.WaitFrom(ctx, start, false)
}

// openSession starts a new refresh token family for the account
func (s *AuthService) openSession(ctx context.Context, account *models.Account) (*AuthResponse, error) {
	secret, row, err := s.newRefreshToken(account.ID, uuid.New().String())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate refresh token", slog.Any("error", err))
		return nil, err
	}

	if _, err := s.refreshTokens.Create(ctx, row); err != nil {
		s.logger.ErrorContext(ctx, "failed to store refresh token",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrStoreUnavailable
	}

	return s.buildResponse(ctx, account, secret)
}

func (s *AuthService) buildResponse(ctx context.Context, account *models.Account, refreshSecret string) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(account)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate access token",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, err
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshSecret,
		Account:      account.Summary(),
	}, nil
}

// newRefreshToken returns the wire secret and the row to persist for it
func (s *AuthService) newRefreshToken(accountID, familyID string) (string, *models.RefreshToken, error) {
	secret, err := pkgauth.GenerateSecret()
	if err != nil {
		return "", nil, err
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", nil, err
	}

	return secret, &models.RefreshToken{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		FamilyID:     familyID,
		SecretHash:   hash,
		SecretDigest: pkgauth.Digest(secret),
		ExpiresAt:    s.now().Add(s.refreshTTL),
	}, nil
}

// lookupRefreshToken finds the row for a presented secret and verifies its hash.
// Unknown or mismatching secrets yield models.ErrNotFound.
func (s *AuthService) lookupRefreshToken(ctx context.Context, secret string) (*models.RefreshToken, error) {
	token, err := s.refreshTokens.GetByDigest(ctx, pkgauth.Digest(secret))
	if err != nil {
		return nil, err
	}
	if err := s.hasher.Compare(token.SecretHash, secret); err != nil {
		return nil, models.ErrNotFound
	}
	return token, nil
}

// Refresh exchanges a refresh token for a new access token and a rotated refresh token.
// Presenting a token that was already rotated revokes its whole family. Tokens revoked
// for any other reason are simply invalid.
func (s *AuthService) Refresh(ctx context.Context, presented string) (*AuthResponse, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		s.metrics.Refresh(metrics.OutcomeFailure)
		return nil, models.ErrInvalidRefreshToken
	}

	token, err := s.lookupRefreshToken(ctx, presented)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.metrics.Refresh(metrics.OutcomeFailure)
			return nil, models.ErrInvalidRefreshToken
		}
		s.logger.ErrorContext(ctx, "failed to look up refresh token", slog.Any("error", err))
		s.metrics.Refresh(metrics.OutcomeError)
		return nil, models.ErrStoreUnavailable
	}

	if token.IsRevoked() {
		if token.WasRotated() {
			s.revokeFamilyOnReuse(ctx, token)
		} else {
			s.metrics.Refresh(metrics.OutcomeFailure)
		}
		return nil, models.ErrInvalidRefreshToken
	}

	if token.IsExpired(s.now()) {
		s.metrics.Refresh(metrics.OutcomeFailure)
		return nil, models.ErrInvalidRefreshToken
	}

	account, err := s.accounts.GetByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.metrics.Refresh(metrics.OutcomeFailure)
			return nil, models.ErrInvalidRefreshToken
		}
		s.logger.ErrorContext(ctx, "failed to load account for refresh",
			slog.String("account_id", token.AccountID), slog.Any("error", err))
		s.metrics.Refresh(metrics.OutcomeError)
		return nil, models.ErrStoreUnavailable
	}

	secret, next, err := s.newRefreshToken(account.ID, token.FamilyID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate refresh token", slog.Any("error", err))
		s.metrics.Refresh(metrics.OutcomeError)
		return nil, err
	}

	if _, err := s.refreshTokens.Rotate(ctx, token.ID, next); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// another request rotated this token first
			s.revokeFamilyOnReuse(ctx, token)
			return nil, models.ErrInvalidRefreshToken
		}
		s.logger.ErrorContext(ctx, "failed to rotate refresh token",
			slog.String("account_id", account.ID), slog.Any("error", err))
		s.metrics.Refresh(metrics.OutcomeError)
		return nil, models.ErrStoreUnavailable
	}

	resp, err := s.buildResponse(ctx, account, secret)
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeError)
		return nil, err
	}

	s.metrics.Refresh(metrics.OutcomeSuccess)
	return resp, nil
}

func (s *AuthService) revokeFamilyOnReuse(ctx context.Context, token *models.RefreshToken) {
	s.metrics.Refresh(metrics.OutcomeReuse)
	s.auditLogger.LogRefreshReuse(ctx, token.AccountID, token.FamilyID)

	revoked, err := s.refreshTokens.RevokeFamily(ctx, token.FamilyID, models.RevokeReasonReuseDetected)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke token family after reuse",
			slog.String("family_id", token.FamilyID), slog.Any("error", err))
		return
	}

	s.logger.WarnContext(ctx, "refresh token reuse detected, family revoked",
		slog.String("account_id", token.AccountID),
		slog.String("family_id", token.FamilyID),
		slog.Int64("revoked", revoked),
	)
}

// Logout revokes the presented refresh token if it belongs to accountID.
// Unknown, foreign or already revoked tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, accountID, refreshSecret string) error {
	refreshSecret = strings.TrimSpace(refreshSecret)
	if refreshSecret == "" {
		return nil
	}

	token, err := s.lookupRefreshToken(ctx, refreshSecret)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		s.logger.ErrorContext(ctx, "failed to look up refresh token for logout", slog.Any("error", err))
		return models.ErrStoreUnavailable
	}

	if token.AccountID != accountID {
		s.logger.WarnContext(ctx, "logout with refresh token of another account",
			slog.String("account_id", accountID))
		return nil
	}

	revoked, err := s.refreshTokens.Revoke(ctx, token.ID, accountID, models.RevokeReasonLogout)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh token", slog.Any("error", err))
		return models.ErrStoreUnavailable
	}

	if revoked {
		s.auditLogger.LogAccountAction(ctx, pkglogger.EventLogout, accountID, accountID, nil)
	}
	return nil
}

// LogoutAll revokes every refresh token of the account
func (s *AuthService) LogoutAll(ctx context.Context, accountID string) (int64, error) {
	revoked, err := s.refreshTokens.RevokeAllForAccount(ctx, accountID, models.RevokeReasonLogoutAll)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke account sessions",
			slog.String("account_id", accountID), slog.Any("error", err))
		return 0, models.ErrStoreUnavailable
	}

	s.auditLogger.LogAccountAction(ctx, pkglogger.EventLogoutAll, accountID, accountID,
		map[string]string{"revoked": strconv.FormatInt(revoked, 10)})
	return revoked, nil
}

// ListSessions returns the account's active refresh tokens, newest first
func (s *AuthService) ListSessions(ctx context.Context, accountID string) ([]models.Session, error) {
	tokens, err := s.refreshTokens.ListActiveByAccount(ctx, accountID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list sessions",
			slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrStoreUnavailable
	}

	sessions := make([]models.Session, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, t.Session())
	}
	return sessions, nil
}

// RevokeAccountSessions force-logs-out accountID on behalf of an Admin
func (s *AuthService) RevokeAccountSessions(ctx context.Context, actor *models.TokenClaims, accountID string) (int64, error) {
	if err := auth.CheckRole(actor, models.RoleAdmin); err != nil {
		return 0, err
	}

	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, models.ErrNotFound
		}
		s.logger.ErrorContext(ctx, "failed to load account", slog.String("account_id", accountID), slog.Any("error", err))
		return 0, models.ErrStoreUnavailable
	}

	revoked, err := s.refreshTokens.RevokeAllForAccount(ctx, accountID, models.RevokeReasonAdmin)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke account sessions",
			slog.String("account_id", accountID), slog.Any("error", err))
		return 0, models.ErrStoreUnavailable
	}

	s.auditLogger.LogAccountAction(ctx, pkglogger.EventSessionsRevoked, accountID, actor.AccountID(),
		map[string]string{"revoked": strconv.FormatInt(revoked, 10)})
	return revoked, nil
}

// Me returns the live summary of the authenticated account
func (s *AuthService) Me(ctx context.Context, accountID string) (*models.AccountSummary, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to load account", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrStoreUnavailable
	}
	return account.Summary(), nil
}
