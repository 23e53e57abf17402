package services

import (
	"context"
	"time"

	"github.com/mpnag/discipline/internal/models"
)

// AccountRepository is the account side of the credential store
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
}

// RefreshTokenRepository stores refresh token rows. Rotate must revoke the old row
// and insert the new one atomically, returning models.ErrNotFound if the old row
// was no longer active.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)
	GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]*models.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, next *models.RefreshToken) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id, accountID, reason string) (bool, error)
	RevokeFamily(ctx context.Context, familyID, reason string) (int64, error)
	RevokeAllForAccount(ctx context.Context, accountID, reason string) (int64, error)
}

// PasswordResetRepository stores reset tokens and applies a reset atomically
type PasswordResetRepository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error)
	GetByDigest(ctx context.Context, digest string) (*models.PasswordResetToken, error)
	ConsumeAndResetPassword(ctx context.Context, tokenID, accountID, passwordHash string, revokeSessions bool) error
}

// PasswordResetMailer delivers reset secrets out of band
type PasswordResetMailer interface {
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}
