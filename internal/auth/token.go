package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mpnag/discipline/internal/models"
)

// TokenManager signs and verifies HS256 access tokens
type TokenManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// TokenOption configures a TokenManager
type TokenOption func(*TokenManager)

// WithClock replaces the wall clock used for issuing and verifying tokens
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) {
		tm.now = now
	}
}

func NewTokenManager(secret, issuer string, accessTTL time.Duration, opts ...TokenOption) *TokenManager {
	tm := &TokenManager{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// GenerateAccessToken mints a signed access token for the account
func (tm *TokenManager) GenerateAccessToken(account *models.Account) (string, error) {
	if account == nil || account.ID == "" {
		return "", errors.New("account is required")
	}

	now := tm.now()
	claims := &models.TokenClaims{
		Type:          models.TokenTypeAccess,
		Role:          account.Role,
		Username:      account.Username,
		PasswordStamp: account.PasswordStamp(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   account.ID,
			Issuer:    tm.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, nil
}

// ValidateToken verifies signature, algorithm, expiry, not-before, issuer and token type.
// Every failure wraps models.ErrUnauthorized.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.TokenTypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", models.ErrUnauthorized, claims.Type)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", models.ErrUnauthorized)
	}

	return claims, nil
}

// Authenticate validates an Authorization header value of the form "Bearer <token>"
func (tm *TokenManager) Authenticate(authorizationHeader string) (*models.TokenClaims, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorizationHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, fmt.Errorf("%w: missing bearer token", models.ErrUnauthorized)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", models.ErrUnauthorized)
	}

	return tm.ValidateToken(token)
}
