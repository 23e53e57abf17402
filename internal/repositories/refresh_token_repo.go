package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mpnag/discipline/internal/database"
	"github.com/mpnag/discipline/internal/models"
)

const refreshTokenColumns = `id, account_id, family_id, secret_hash, secret_digest, expires_at, revoked_at, revoked_reason, replaced_by, created_at`

// RefreshTokenRepository persists refresh token rows. Secrets never reach this layer,
// only their bcrypt hash and SHA-256 digest.
type RefreshTokenRepository struct {
	db *database.DB
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func scanRefreshTokenRow(row rowScanner) (*models.RefreshToken, error) {
	var token models.RefreshToken

	err := row.Scan(
		&token.ID, &token.AccountID, &token.FamilyID, &token.SecretHash, &token.SecretDigest,
		&token.ExpiresAt, &token.RevokedAt, &token.RevokedReason, &token.ReplacedBy, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

func insertRefreshToken(ctx context.Context, q database.Querier, token *models.RefreshToken) (*models.RefreshToken, error) {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}

	query := `
		INSERT INTO refresh_tokens (id, account_id, family_id, secret_hash, secret_digest, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + refreshTokenColumns

	return scanRefreshTokenRow(q.QueryRow(ctx, query,
		token.ID, token.AccountID, token.FamilyID, token.SecretHash, token.SecretDigest, token.ExpiresAt,
	))
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	created, err := insertRefreshToken(ctx, r.db.Pool, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}
	return created, nil
}

// GetByDigest returns the token row regardless of its state so callers can
// distinguish reuse of a revoked token from an unknown one.
func (r *RefreshTokenRepository) GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE secret_digest = $1`
	return scanRefreshTokenRow(r.db.Pool.QueryRow(ctx, query, digest))
}

func (r *RefreshTokenRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*models.RefreshToken, 0)
	for rows.Next() {
		token, err := scanRefreshTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh token rows: %w", err)
	}

	return tokens, nil
}

// Rotate revokes oldID and inserts next in one transaction. If oldID was already
// revoked (a concurrent rotation won) it returns ErrNotFound and nothing is written.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, next *models.RefreshToken) (*models.RefreshToken, error) {
	if next.ID == "" {
		next.ID = uuid.New().String()
	}

	var created *models.RefreshToken
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = NOW(), revoked_reason = $2, replaced_by = $3
			WHERE id = $1 AND revoked_at IS NULL
		`, oldID, models.RevokeReasonRotated, next.ID)
		if err != nil {
			return fmt.Errorf("failed to revoke rotated token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		created, err = insertRefreshToken(ctx, tx, next)
		if err != nil {
			return fmt.Errorf("failed to insert rotated token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Revoke revokes one active token owned by accountID. Revoking an already revoked or
// foreign token is a no-op and reports false.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id, accountID, reason string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoked_reason = $3
		WHERE id = $1 AND account_id = $2 AND revoked_at IS NULL
	`, id, accountID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoked_reason = $2
		WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke token family: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID, reason string) (int64, error) {
	return revokeAllForAccount(ctx, r.db.Pool, accountID, reason)
}

func revokeAllForAccount(ctx context.Context, q database.Querier, accountID, reason string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), revoked_reason = $2
		WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke account tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CleanupExpired deletes rows past their expiry. Revoked rows are kept until then so
// reuse of a rotated token is still detected.
func (r *RefreshTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
