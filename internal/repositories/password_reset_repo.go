package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mpnag/discipline/internal/database"
	"github.com/mpnag/discipline/internal/models"
)

const resetTokenColumns = `id, account_id, secret_hash, secret_digest, expires_at, used_at, created_at`

type PasswordResetRepository struct {
	db *database.DB
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

func scanResetTokenRow(row rowScanner) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken

	err := row.Scan(
		&token.ID, &token.AccountID, &token.SecretHash, &token.SecretDigest,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

func (r *PasswordResetRepository) Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}

	query := `
		INSERT INTO password_reset_tokens (id, account_id, secret_hash, secret_digest, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + resetTokenColumns

	created, err := scanResetTokenRow(r.db.Pool.QueryRow(ctx, query,
		token.ID, token.AccountID, token.SecretHash, token.SecretDigest, token.ExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create password reset token: %w", err)
	}

	return created, nil
}

func (r *PasswordResetRepository) GetByDigest(ctx context.Context, digest string) (*models.PasswordResetToken, error) {
	query := `SELECT ` + resetTokenColumns + ` FROM password_reset_tokens WHERE secret_digest = $1`
	return scanResetTokenRow(r.db.Pool.QueryRow(ctx, query, digest))
}

// ConsumeAndResetPassword marks the token used, stores the new password hash and
// deletes every reset token of the account in one transaction. The token can be
// consumed at most once: a used or expired row yields ErrNotFound and nothing changes.
func (r *PasswordResetRepository) ConsumeAndResetPassword(ctx context.Context, tokenID, accountID, passwordHash string, revokeSessions bool) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE password_reset_tokens
			SET used_at = NOW()
			WHERE id = $1 AND account_id = $2 AND used_at IS NULL AND expires_at > NOW()
		`, tokenID, accountID)
		if err != nil {
			return fmt.Errorf("failed to consume reset token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		tag, err = tx.Exec(ctx, `
			UPDATE accounts
			SET password_hash = $2, password_changed_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, accountID, passwordHash)
		if err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM password_reset_tokens WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("failed to delete reset tokens: %w", err)
		}

		if revokeSessions {
			if _, err := revokeAllForAccount(ctx, tx, accountID, models.RevokeReasonPasswordReset); err != nil {
				return err
			}
		}

		return nil
	})
}

// CleanupExpired deletes expired and consumed tokens
func (r *PasswordResetRepository) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM password_reset_tokens
		WHERE expires_at < NOW() OR used_at IS NOT NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup password reset tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
