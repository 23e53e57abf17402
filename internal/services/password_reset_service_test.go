package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mpnag/discipline/internal/models"
	pkgauth "github.com/mpnag/discipline/pkg/auth"
	pkglogger "github.com/mpnag/discipline/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const newPassword = "Detention#Free9"

type resetFixture struct {
	service  *PasswordResetService
	accounts *MockAccountRepository
	resets   *MockPasswordResetRepository
	stored   []*models.PasswordResetToken
	consumed []string
	hashes   map[string]string
}

func newResetFixture(t *testing.T, mailer PasswordResetMailer, config PasswordResetConfig) *resetFixture {
	t.Helper()
	teacher := NewTestAccount(t, teacherID, "mfrizzle", models.RoleTeacher, teacherPassword)

	f := &resetFixture{
		accounts: accountsOf(teacher),
		hashes:   make(map[string]string),
	}
	f.resets = &MockPasswordResetRepository{
		CreateFunc: func(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
			f.stored = append(f.stored, token)
			return token, nil
		},
		GetByDigestFunc: func(ctx context.Context, digest string) (*models.PasswordResetToken, error) {
			for _, tok := range f.stored {
				if tok.SecretDigest == digest {
					return tok, nil
				}
			}
			return nil, models.ErrNotFound
		},
		ConsumeAndResetPasswordFunc: func(ctx context.Context, tokenID, accountID, passwordHash string, revokeSessions bool) error {
			for _, tok := range f.stored {
				if tok.ID == tokenID && tok.UsedAt == nil {
					now := time.Now()
					tok.UsedAt = &now
					f.consumed = append(f.consumed, tokenID)
					f.hashes[accountID] = passwordHash
					return nil
				}
			}
			return models.ErrNotFound
		},
	}

	logger := testLogger()
	f.service = NewPasswordResetService(f.accounts, f.resets, testHasher(t), mailer, nil, config,
		logger, pkglogger.NewAuditLogger(logger), nil)
	return f
}

func echoConfig() PasswordResetConfig {
	return PasswordResetConfig{TokenTTL: 30 * time.Minute, EchoToken: true, RevokeSessions: true}
}

func TestPasswordResetService_RequestReset_EchoWithoutMailer(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())

	result := f.service.RequestReset(context.Background(), "MFRIZZLE@school.test")

	require.NotEmpty(t, result.Token)
	require.Len(t, f.stored, 1)
	stored := f.stored[0]
	assert.Equal(t, teacherID, stored.AccountID)
	assert.Equal(t, pkgauth.Digest(result.Token), stored.SecretDigest)
	assert.NotEqual(t, result.Token, stored.SecretHash)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), stored.ExpiresAt, time.Minute)
}

func TestPasswordResetService_RequestReset_SameShapeForUnknownEmail(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())

	result := f.service.RequestReset(context.Background(), "nobody@school.test")

	require.NotNil(t, result)
	assert.Empty(t, result.Token)
	assert.Empty(t, f.stored)
}

func TestPasswordResetService_RequestReset_MailerTakesPrecedenceOverEcho(t *testing.T) {
	var sentTo, sentToken string
	mailer := &MockMailer{
		SendPasswordResetEmailFunc: func(ctx context.Context, email, token string, expiresAt time.Time) error {
			sentTo, sentToken = email, token
			return nil
		},
	}
	f := newResetFixture(t, mailer, echoConfig())

	result := f.service.RequestReset(context.Background(), "mfrizzle@school.test")

	assert.Empty(t, result.Token)
	assert.Equal(t, "mfrizzle@school.test", sentTo)
	require.Len(t, f.stored, 1)
	assert.Equal(t, pkgauth.Digest(sentToken), f.stored[0].SecretDigest)
}

func TestPasswordResetService_RequestReset_SwallowsFailures(t *testing.T) {
	t.Run("mailer error", func(t *testing.T) {
		mailer := &MockMailer{
			SendPasswordResetEmailFunc: func(ctx context.Context, email, token string, expiresAt time.Time) error {
				return errors.New("ses throttled")
			},
		}
		f := newResetFixture(t, mailer, echoConfig())

		result := f.service.RequestReset(context.Background(), "mfrizzle@school.test")
		require.NotNil(t, result)
		assert.Empty(t, result.Token)
	})

	t.Run("store error", func(t *testing.T) {
		f := newResetFixture(t, nil, echoConfig())
		f.resets.CreateFunc = func(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
			return nil, errors.New("disk full")
		}

		result := f.service.RequestReset(context.Background(), "mfrizzle@school.test")
		require.NotNil(t, result)
		assert.Empty(t, result.Token)
	})

	t.Run("lookup error", func(t *testing.T) {
		f := newResetFixture(t, nil, echoConfig())
		f.accounts.GetByEmailFunc = func(ctx context.Context, email string) (*models.Account, error) {
			return nil, errors.New("timeout")
		}

		result := f.service.RequestReset(context.Background(), "mfrizzle@school.test")
		require.NotNil(t, result)
		assert.Empty(t, result.Token)
	})
}

func TestPasswordResetService_RequestReset_NoEchoWhenDisabled(t *testing.T) {
	config := echoConfig()
	config.EchoToken = false
	f := newResetFixture(t, nil, config)

	result := f.service.RequestReset(context.Background(), "mfrizzle@school.test")

	assert.Empty(t, result.Token)
	assert.Len(t, f.stored, 1)
}

func TestPasswordResetService_ResetPassword_Success(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())
	token := f.service.RequestReset(context.Background(), "mfrizzle@school.test").Token
	require.NotEmpty(t, token)

	require.NoError(t, f.service.ResetPassword(context.Background(), token, newPassword))

	require.Len(t, f.consumed, 1)
	hash := f.hashes[teacherID]
	require.NotEmpty(t, hash)
	assert.NoError(t, testHasher(t).Compare(hash, newPassword))
}

func TestPasswordResetService_ResetPassword_SingleUse(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())
	token := f.service.RequestReset(context.Background(), "mfrizzle@school.test").Token

	require.NoError(t, f.service.ResetPassword(context.Background(), token, newPassword))
	err := f.service.ResetPassword(context.Background(), token, "Another#Pass42")
	assert.ErrorIs(t, err, models.ErrInvalidOrExpiredResetToken)
}

func TestPasswordResetService_ResetPassword_LostConsumeRace(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())
	token := f.service.RequestReset(context.Background(), "mfrizzle@school.test").Token
	f.resets.ConsumeAndResetPasswordFunc = func(ctx context.Context, tokenID, accountID, passwordHash string, revokeSessions bool) error {
		return models.ErrNotFound
	}

	err := f.service.ResetPassword(context.Background(), token, newPassword)
	assert.ErrorIs(t, err, models.ErrInvalidOrExpiredResetToken)
}

func TestPasswordResetService_ResetPassword_Expired(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())
	token := f.service.RequestReset(context.Background(), "mfrizzle@school.test").Token

	f.service.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	err := f.service.ResetPassword(context.Background(), token, newPassword)
	assert.ErrorIs(t, err, models.ErrInvalidOrExpiredResetToken)
	assert.Empty(t, f.consumed)
}

func TestPasswordResetService_ResetPassword_UnknownAndEmptyToken(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())

	assert.ErrorIs(t, f.service.ResetPassword(context.Background(), "", newPassword), models.ErrInvalidOrExpiredResetToken)
	assert.ErrorIs(t, f.service.ResetPassword(context.Background(), "no-such-token", newPassword), models.ErrInvalidOrExpiredResetToken)
}

func TestPasswordResetService_ResetPassword_WeakPassword(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())
	token := f.service.RequestReset(context.Background(), "mfrizzle@school.test").Token

	err := f.service.ResetPassword(context.Background(), token, "short")
	require.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, f.consumed)

	// the token survives a rejected password
	assert.NoError(t, f.service.ResetPassword(context.Background(), token, newPassword))
}

func TestPasswordResetService_ResetPassword_PassesSessionPolicy(t *testing.T) {
	for _, revoke := range []bool{true, false} {
		config := echoConfig()
		config.RevokeSessions = revoke
		f := newResetFixture(t, nil, config)
		token := f.service.RequestReset(context.Background(), "mfrizzle@school.test").Token

		var got bool
		f.resets.ConsumeAndResetPasswordFunc = func(ctx context.Context, tokenID, accountID, passwordHash string, revokeSessions bool) error {
			got = revokeSessions
			return nil
		}

		require.NoError(t, f.service.ResetPassword(context.Background(), token, newPassword))
		assert.Equal(t, revoke, got)
	}
}

func TestPasswordResetService_ResetPassword_StoreUnavailable(t *testing.T) {
	f := newResetFixture(t, nil, echoConfig())
	f.resets.GetByDigestFunc = func(ctx context.Context, digest string) (*models.PasswordResetToken, error) {
		return nil, errors.New("connection reset")
	}

	err := f.service.ResetPassword(context.Background(), "some-token", newPassword)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}
