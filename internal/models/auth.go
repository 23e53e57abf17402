package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess = "access"
)

// TokenClaims is the signed claim set of an access token. Subject holds the account id.
type TokenClaims struct {
	Type          string `json:"typ"`
	Role          Role   `json:"role"`
	Username      string `json:"username"`
	PasswordStamp int64  `json:"pwc,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the subject of the token
func (c *TokenClaims) AccountID() string {
	return c.Subject
}

// Refresh token revocation reasons
const (
	RevokeReasonLogout        = "logout"
	RevokeReasonLogoutAll     = "logout_all"
	RevokeReasonRotated       = "rotated"
	RevokeReasonReuseDetected = "reuse_detected"
	RevokeReasonPasswordReset = "password_reset"
	RevokeReasonAdmin         = "admin_revoked"
)

// RefreshToken is a persisted refresh credential. Only the bcrypt hash and the
// SHA-256 digest of the secret are stored.
type RefreshToken struct {
	ID            string
	AccountID     string
	FamilyID      string
	SecretHash    string
	SecretDigest  string
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	RevokedReason *string
	ReplacedBy    *string
	CreatedAt     time.Time
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// WasRotated reports whether the token was revoked because it was exchanged.
// Presenting such a token again means the secret was copied.
func (t *RefreshToken) WasRotated() bool {
	return t.RevokedReason != nil && *t.RevokedReason == RevokeReasonRotated
}

// IsActive reports whether the token can still be exchanged
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// Session is the public view of an active refresh token
type Session struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

func (t *RefreshToken) Session() Session {
	return Session{
		ID:        t.ID,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: t.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// PasswordResetToken moves Issued -> Consumed or Issued -> Expired, never back.
type PasswordResetToken struct {
	ID           string
	AccountID    string
	SecretHash   string
	SecretDigest string
	ExpiresAt    time.Time
	UsedAt       *time.Time
	CreatedAt    time.Time
}

func (t *PasswordResetToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsValid checks the token is still in the Issued state
func (t *PasswordResetToken) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.IsUsed()
}
