package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mpnag/discipline/internal/models"
	pkgauth "github.com/mpnag/discipline/pkg/auth"
	pkglogger "github.com/mpnag/discipline/pkg/logger"
)

// NewAccount is the input for provisioning an account
type NewAccount struct {
	FullName string      `json:"fullName" validate:"required,max=200"`
	Email    string      `json:"email" validate:"required,email,max=254"`
	Username string      `json:"username" validate:"required,min=3,max=64,excludes=@"`
	Password string      `json:"password" validate:"required"`
	Role     models.Role `json:"role" validate:"required,oneof=Admin Teacher Student"`
	Grade    *string     `json:"grade,omitempty" validate:"omitempty,min=1,max=32"`
}

type AccountService struct {
	accounts    AccountRepository
	hasher      *pkgauth.Hasher
	validate    *validator.Validate
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewAccountService(accounts AccountRepository, hasher *pkgauth.Hasher, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AccountService {
	return &AccountService{
		accounts:    accounts,
		hasher:      hasher,
		validate:    validator.New(),
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Create validates and stores a new account. Duplicate email or username yields models.ErrConflict.
func (s *AccountService) Create(ctx context.Context, input NewAccount) (*models.AccountSummary, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Username = strings.TrimSpace(input.Username)
	if role, ok := models.ParseRole(input.Role.String()); ok {
		input.Role = role
	}

	if err := s.validate.Struct(input); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return nil, models.NewValidationError(ve[0].Field(), fmt.Sprintf("failed %s check", ve[0].Tag()))
		}
		return nil, models.NewValidationError("", "invalid account")
	}

	if input.Grade != nil && input.Role != models.RoleStudent {
		return nil, models.NewValidationError("Grade", "only students have a grade")
	}

	if err := pkgauth.ValidatePassword(input.Password); err != nil {
		return nil, models.NewValidationError("Password", "does not meet the password policy")
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		FullName:     input.FullName,
		Email:        input.Email,
		Username:     input.Username,
		PasswordHash: hash,
		Role:         input.Role,
		Grade:        input.Grade,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrValidation) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "failed to create account", slog.Any("error", err))
		return nil, models.ErrStoreUnavailable
	}

	s.logger.InfoContext(ctx, "account created",
		slog.String("account_id", account.ID),
		slog.String("role", string(account.Role)),
		slog.String("email", pkglogger.SanitizedEmail(account.Email)),
	)
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventAccountCreated, account.ID, "",
		map[string]string{"role": string(account.Role)})

	return account.Summary(), nil
}

// EnsureAdmin provisions the bootstrap admin. An existing account with the same
// email or username counts as already provisioned.
func (s *AccountService) EnsureAdmin(ctx context.Context, fullName, email, username, password string) (bool, error) {
	_, err := s.Create(ctx, NewAccount{
		FullName: fullName,
		Email:    email,
		Username: username,
		Password: password,
		Role:     models.RoleAdmin,
	})
	if errors.Is(err, models.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
