package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/metrics"
	"github.com/mpnag/discipline/internal/models"
	pkgauth "github.com/mpnag/discipline/pkg/auth"
	pkglogger "github.com/mpnag/discipline/pkg/logger"
)

// ResetRequestResult has the same shape whether or not the email exists.
// Token is only set when development echo is enabled and no mailer is configured.
type ResetRequestResult struct {
	Token string `json:"token,omitempty"`
}

// PasswordResetConfig holds the reset token policy
type PasswordResetConfig struct {
	TokenTTL       time.Duration
	EchoToken      bool
	RevokeSessions bool
}

type PasswordResetService struct {
	accounts    AccountRepository
	resets      PasswordResetRepository
	hasher      *pkgauth.Hasher
	mailer      PasswordResetMailer
	timing      *auth.TimingDelay
	config      PasswordResetConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewPasswordResetService creates the service. mailer may be nil when no mail
// transport is configured.
func NewPasswordResetService(
	accounts AccountRepository,
	resets PasswordResetRepository,
	hasher *pkgauth.Hasher,
	mailer PasswordResetMailer,
	timing *auth.TimingDelay,
	config PasswordResetConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *PasswordResetService {
	return &PasswordResetService{
		accounts:    accounts,
		resets:      resets,
		hasher:      hasher,
		mailer:      mailer,
		timing:      timing,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		now:         time.Now,
	}
}

// RequestReset issues a reset token for the account with this email, if any.
// It never reports whether the email exists: lookup, store and delivery failures are
// logged and swallowed, and every call is padded to the same minimum duration.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) *ResetRequestResult {
	start := time.Now()
	defer s.timing.WaitFrom(ctx, start, false)

	result := &ResetRequestResult{}

	email = strings.TrimSpace(email)
	if email == "" {
		return result
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			s.metrics.PasswordReset("request", "unknown_email")
		} else {
			s.logger.ErrorContext(ctx, "failed to look up account for password reset", slog.Any("error", err))
			s.metrics.PasswordReset("request", metrics.OutcomeError)
		}
		return result
	}

	secret, err := pkgauth.GenerateSecret()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate reset secret", slog.Any("error", err))
		s.metrics.PasswordReset("request", metrics.OutcomeError)
		return result
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash reset secret", slog.Any("error", err))
		s.metrics.PasswordReset("request", metrics.OutcomeError)
		return result
	}

	expiresAt := s.now().Add(s.config.TokenTTL)
	if _, err := s.resets.Create(ctx, &models.PasswordResetToken{
		ID:           uuid.New().String(),
		AccountID:    account.ID,
		SecretHash:   hash,
		SecretDigest: pkgauth.Digest(secret),
		ExpiresAt:    expiresAt,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to store reset token",
			slog.String("account_id", account.ID), slog.Any("error", err))
		s.metrics.PasswordReset("request", metrics.OutcomeError)
		return result
	}

	s.auditLogger.LogAccountAction(ctx, pkglogger.EventResetRequested, account.ID, "", nil)

	switch {
	case s.mailer != nil:
		if err := s.mailer.SendPasswordResetEmail(ctx, account.Email, secret, expiresAt); err != nil {
			s.logger.ErrorContext(ctx, "failed to deliver reset email",
				slog.String("account_id", account.ID), slog.Any("error", err))
			s.metrics.PasswordReset("request", metrics.OutcomeError)
			return result
		}
	case s.config.EchoToken:
		s.logger.WarnContext(ctx, "returning reset token in response (development echo)",
			slog.String("account_id", account.ID))
		result.Token = secret
	default:
		s.logger.WarnContext(ctx, "reset token issued but no delivery channel is configured",
			slog.String("account_id", account.ID))
	}

	s.metrics.PasswordReset("request", metrics.OutcomeSuccess)
	return result
}

// ResetPassword consumes a reset token and sets a new password. Unknown, used and
// expired tokens all yield models.ErrInvalidOrExpiredResetToken.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		s.metrics.PasswordReset("complete", metrics.OutcomeFailure)
		return models.ErrInvalidOrExpiredResetToken
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.NewValidationError("newPassword", "does not meet the password policy")
	}

	row, err := s.resets.GetByDigest(ctx, pkgauth.Digest(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.metrics.PasswordReset("complete", metrics.OutcomeFailure)
			return models.ErrInvalidOrExpiredResetToken
		}
		s.logger.ErrorContext(ctx, "failed to look up reset token", slog.Any("error", err))
		s.metrics.PasswordReset("complete", metrics.OutcomeError)
		return models.ErrStoreUnavailable
	}

	if err := s.hasher.Compare(row.SecretHash, token); err != nil || !row.IsValid(s.now()) {
		s.metrics.PasswordReset("complete", metrics.OutcomeFailure)
		return models.ErrInvalidOrExpiredResetToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash new password", slog.Any("error", err))
		s.metrics.PasswordReset("complete", metrics.OutcomeError)
		return err
	}

	if err := s.resets.ConsumeAndResetPassword(ctx, row.ID, row.AccountID, hash, s.config.RevokeSessions); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.metrics.PasswordReset("complete", metrics.OutcomeFailure)
			return models.ErrInvalidOrExpiredResetToken
		}
		s.logger.ErrorContext(ctx, "failed to apply password reset",
			slog.String("account_id", row.AccountID), slog.Any("error", err))
		s.metrics.PasswordReset("complete", metrics.OutcomeError)
		return models.ErrStoreUnavailable
	}

	s.logger.InfoContext(ctx, "password reset completed", slog.String("account_id", row.AccountID))
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventPasswordReset, row.AccountID, "", nil)
	s.metrics.PasswordReset("complete", metrics.OutcomeSuccess)
	return nil
}
