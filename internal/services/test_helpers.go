package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mpnag/discipline/internal/models"
	pkgauth "github.com/mpnag/discipline/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// testHasher uses the minimum bcrypt cost to keep tests fast
func testHasher(t *testing.T) *pkgauth.Hasher {
	t.Helper()
	h, err := pkgauth.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}
	return h
}

// NewTestAccount creates an account whose password hash matches password
func NewTestAccount(t *testing.T, id, username string, role models.Role, password string) *models.Account {
	t.Helper()
	hash, err := testHasher(t).Hash(password)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return &models.Account{
		ID:           id,
		FullName:     "Test " + username,
		Email:        username + "@school.test",
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc         func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc      func(ctx context.Context, email string) (*models.Account, error)
	GetByIdentifierFunc func(ctx context.Context, identifier string) (*models.Account, error)
	CreateFunc          func(ctx context.Context, account *models.Account) (*models.Account, error)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	if m.GetByIdentifierFunc != nil {
		return m.GetByIdentifierFunc(ctx, identifier)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return account, nil
}

// accountsOf returns a MockAccountRepository serving the given accounts by id, email and username
func accountsOf(accounts ...*models.Account) *MockAccountRepository {
	find := func(match func(a *models.Account) bool) (*models.Account, error) {
		for _, a := range accounts {
			if match(a) {
				return a, nil
			}
		}
		return nil, models.ErrNotFound
	}
	return &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return find(func(a *models.Account) bool { return a.ID == id })
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Account, error) {
			return find(func(a *models.Account) bool { return strings.EqualFold(a.Email, email) })
		},
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.Account, error) {
			return find(func(a *models.Account) bool {
				return strings.EqualFold(a.Email, identifier) || strings.EqualFold(a.Username, identifier)
			})
		},
	}
}

// MockPasswordResetRepository implements PasswordResetRepository for testing
type MockPasswordResetRepository struct {
	CreateFunc                  func(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error)
	GetByDigestFunc             func(ctx context.Context, digest string) (*models.PasswordResetToken, error)
	ConsumeAndResetPasswordFunc func(ctx context.Context, tokenID, accountID, passwordHash string, revokeSessions bool) error
}

func (m *MockPasswordResetRepository) Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	return token, nil
}

func (m *MockPasswordResetRepository) GetByDigest(ctx context.Context, digest string) (*models.PasswordResetToken, error) {
	if m.GetByDigestFunc != nil {
		return m.GetByDigestFunc(ctx, digest)
	}
	return nil, models.ErrNotFound
}

func (m *MockPasswordResetRepository) ConsumeAndResetPassword(ctx context.Context, tokenID, accountID, passwordHash string, revokeSessions bool) error {
	if m.ConsumeAndResetPasswordFunc != nil {
		return m.ConsumeAndResetPasswordFunc(ctx, tokenID, accountID, passwordHash, revokeSessions)
	}
	return nil
}

// MockMailer implements PasswordResetMailer for testing
type MockMailer struct {
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockMailer) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// memoryRefreshTokens is a stateful RefreshTokenRepository with the same
// rotation semantics as the Postgres repository
type memoryRefreshTokens struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
	now    func() time.Time

	// failWith, when set, is returned from every call
	failWith error

	familyRevocations int
}

func newMemoryRefreshTokens() *memoryRefreshTokens {
	return &memoryRefreshTokens{
		tokens: make(map[string]*models.RefreshToken),
		now:    time.Now,
	}
}

func (m *memoryRefreshTokens) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.insert(token), nil
}

func (m *memoryRefreshTokens) insert(token *models.RefreshToken) *models.RefreshToken {
	stored := *token
	stored.CreatedAt = m.now()
	m.tokens[stored.ID] = &stored
	out := stored
	return &out
}

func (m *memoryRefreshTokens) GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, t := range m.tokens {
		if t.SecretDigest == digest {
			out := *t
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memoryRefreshTokens) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []*models.RefreshToken
	for _, t := range m.tokens {
		if t.AccountID == accountID && t.IsActive(m.now()) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryRefreshTokens) Rotate(ctx context.Context, oldID string, next *models.RefreshToken) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	old, ok := m.tokens[oldID]
	if !ok || old.IsRevoked() {
		return nil, models.ErrNotFound
	}
	m.revoke(old, models.RevokeReasonRotated)
	old.ReplacedBy = &next.ID
	return m.insert(next), nil
}

func (m *memoryRefreshTokens) revoke(t *models.RefreshToken, reason string) {
	now := m.now()
	t.RevokedAt = &now
	t.RevokedReason = &reason
}

func (m *memoryRefreshTokens) Revoke(ctx context.Context, id, accountID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	t, ok := m.tokens[id]
	if !ok || t.AccountID != accountID || t.IsRevoked() {
		return false, nil
	}
	m.revoke(t, reason)
	return true, nil
}

func (m *memoryRefreshTokens) RevokeFamily(ctx context.Context, familyID, reason string) (int64, error) {
	m.mu.Lock()
	m.familyRevocations++
	m.mu.Unlock()
	return m.revokeWhere(func(t *models.RefreshToken) bool { return t.FamilyID == familyID }, reason)
}

func (m *memoryRefreshTokens) RevokeAllForAccount(ctx context.Context, accountID, reason string) (int64, error) {
	return m.revokeWhere(func(t *models.RefreshToken) bool { return t.AccountID == accountID }, reason)
}

func (m *memoryRefreshTokens) revokeWhere(match func(t *models.RefreshToken) bool, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	var n int64
	for _, t := range m.tokens {
		if match(t) && !t.IsRevoked() {
			m.revoke(t, reason)
			n++
		}
	}
	return n, nil
}

// byID returns a copy of the stored row
func (m *memoryRefreshTokens) byID(id string) *models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil
	}
	out := *t
	return &out
}

func (m *memoryRefreshTokens) activeCount(accountID string) int {
	list, _ := m.ListActiveByAccount(context.Background(), accountID)
	return len(list)
}
