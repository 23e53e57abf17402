package routes_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mpnag/discipline/internal/models"
)

// memDB is an in-memory credential store shared by the fake repositories
type memDB struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	refresh  map[string]*models.RefreshToken
	resets   map[string]*models.PasswordResetToken
}

func newMemDB() *memDB {
	return &memDB{
		accounts: make(map[string]*models.Account),
		refresh:  make(map[string]*models.RefreshToken),
		resets:   make(map[string]*models.PasswordResetToken),
	}
}

type memAccounts struct{ db *memDB }

func (m memAccounts) find(match func(a *models.Account) bool) (*models.Account, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var found []*models.Account
	for _, a := range m.db.accounts {
		if match(a) {
			found = append(found, a)
		}
	}
	if len(found) != 1 {
		return nil, models.ErrNotFound
	}
	out := *found[0]
	return &out, nil
}

func (m memAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return m.find(func(a *models.Account) bool { return a.ID == id })
}

func (m memAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return m.find(func(a *models.Account) bool { return strings.EqualFold(a.Email, email) })
}

func (m memAccounts) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	return m.find(func(a *models.Account) bool {
		return strings.EqualFold(a.Email, identifier) || strings.EqualFold(a.Username, identifier)
	})
}

func (m memAccounts) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, a := range m.db.accounts {
		if strings.EqualFold(a.Email, account.Email) || strings.EqualFold(a.Username, account.Username) {
			return nil, models.ErrConflict
		}
	}
	stored := *account
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	stored.PasswordChangedAt = &now
	m.db.accounts[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m memAccounts) delete(id string) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	delete(m.db.accounts, id)
}

type memRefresh struct{ db *memDB }

func (m memRefresh) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.insert(token), nil
}

func (m memRefresh) insert(token *models.RefreshToken) *models.RefreshToken {
	stored := *token
	stored.CreatedAt = time.Now()
	m.db.refresh[stored.ID] = &stored
	out := stored
	return &out
}

func (m memRefresh) GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, t := range m.db.refresh {
		if t.SecretDigest == digest {
			out := *t
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m memRefresh) ListActiveByAccount(ctx context.Context, accountID string) ([]*models.RefreshToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*models.RefreshToken
	for _, t := range m.db.refresh {
		if t.AccountID == accountID && t.IsActive(time.Now()) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m memRefresh) Rotate(ctx context.Context, oldID string, next *models.RefreshToken) (*models.RefreshToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	old, ok := m.db.refresh[oldID]
	if !ok || old.IsRevoked() {
		return nil, models.ErrNotFound
	}
	revokeRow(old, models.RevokeReasonRotated)
	old.ReplacedBy = &next.ID
	return m.insert(next), nil
}

func revokeRow(t *models.RefreshToken, reason string) {
	now := time.Now()
	t.RevokedAt = &now
	t.RevokedReason = &reason
}

func (m memRefresh) Revoke(ctx context.Context, id, accountID, reason string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.refresh[id]
	if !ok || t.AccountID != accountID || t.IsRevoked() {
		return false, nil
	}
	revokeRow(t, reason)
	return true, nil
}

func (m memRefresh) RevokeFamily(ctx context.Context, familyID, reason string) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.db.revokeWhere(func(t *models.RefreshToken) bool { return t.FamilyID == familyID }, reason), nil
}

func (m memRefresh) RevokeAllForAccount(ctx context.Context, accountID, reason string) (int64, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.db.revokeWhere(func(t *models.RefreshToken) bool { return t.AccountID == accountID }, reason), nil
}

// revokeWhere must be called with mu held
func (db *memDB) revokeWhere(match func(t *models.RefreshToken) bool, reason string) int64 {
	var n int64
	for _, t := range db.refresh {
		if match(t) && !t.IsRevoked() {
			revokeRow(t, reason)
			n++
		}
	}
	return n
}

type memResets struct{ db *memDB }

func (m memResets) Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	stored := *token
	stored.CreatedAt = time.Now()
	m.db.resets[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (m memResets) GetByDigest(ctx context.Context, digest string) (*models.PasswordResetToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, t := range m.db.resets {
		if t.SecretDigest == digest {
			out := *t
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m memResets) ConsumeAndResetPassword(ctx context.Context, tokenID, accountID, passwordHash string, revokeSessions bool) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.resets[tokenID]
	if !ok || !t.IsValid(time.Now()) {
		return models.ErrNotFound
	}
	account, ok := m.db.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}

	now := time.Now()
	account.PasswordHash = passwordHash
	account.PasswordChangedAt = &now
	for id, r := range m.db.resets {
		if r.AccountID == accountID {
			delete(m.db.resets, id)
		}
	}
	if revokeSessions {
		m.db.revokeWhere(func(t *models.RefreshToken) bool { return t.AccountID == accountID }, models.RevokeReasonPasswordReset)
	}
	return nil
}
