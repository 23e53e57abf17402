package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/models"
	pkghttp "github.com/mpnag/discipline/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

type stubAccounts struct {
	account *models.Account
	err     error
	calls   int
}

func (s *stubAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

// capture records the claims seen by the protected handler
func capture(seen **models.TokenClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = auth.GetClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(t *testing.T, h http.Handler, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body pkghttp.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body.Error
}

func TestAuthenticate_StatelessInjectsClaims(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, testIssuer, time.Hour)
	token, err := tm.GenerateAccessToken(testAccount(models.RoleTeacher))
	require.NoError(t, err)

	var seen *models.TokenClaims
	rr := serve(t, auth.Authenticate(tm, nil, discardLogger)(capture(&seen)), "Bearer "+token)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, models.RoleTeacher, seen.Role)
}

func TestAuthenticate_MissingOrInvalidToken(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, testIssuer, time.Hour)
	var seen *models.TokenClaims
	h := auth.Authenticate(tm, nil, discardLogger)(capture(&seen))

	for _, header := range []string{"", "Bearer garbage", "Token abc"} {
		rr := serve(t, h, header)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, header)
		assert.Equal(t, "unauthorized", errorCode(t, rr))
	}
	assert.Nil(t, seen)
}

func TestAuthenticate_LiveRoleReplacesTokenRole(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, testIssuer, time.Hour)
	original := testAccount(models.RoleAdmin)
	token, err := tm.GenerateAccessToken(original)
	require.NoError(t, err)

	demoted := *original
	demoted.Role = models.RoleStudent
	accounts := &stubAccounts{account: &demoted}

	var seen *models.TokenClaims
	h := auth.Authenticate(tm, accounts, discardLogger)(auth.RequireRole(models.RoleAdmin)(capture(&seen)))
	rr := serve(t, h, "Bearer "+token)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 1, accounts.calls)
	assert.Nil(t, seen)
}

func TestAuthenticate_DeletedAccount(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, testIssuer, time.Hour)
	token, err := tm.GenerateAccessToken(testAccount(models.RoleAdmin))
	require.NoError(t, err)

	var seen *models.TokenClaims
	h := auth.Authenticate(tm, &stubAccounts{err: models.ErrNotFound}, discardLogger)(capture(&seen))
	rr := serve(t, h, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, seen)
}

func TestAuthenticate_StoreFailureFailsClosed(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, testIssuer, time.Hour)
	token, err := tm.GenerateAccessToken(testAccount(models.RoleAdmin))
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	var seen *models.TokenClaims
	h := auth.Authenticate(tm, &stubAccounts{err: errors.New("connection refused")}, logger)(capture(&seen))
	rr := serve(t, h, "Bearer "+token)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Nil(t, seen)
	assert.Contains(t, logs.String(), "live account check failed")
	assert.Contains(t, logs.String(), "connection refused")
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

func TestAuthenticate_TokenIssuedBeforePasswordChange(t *testing.T) {
	clock := newFakeClock()
	tm := auth.NewTokenManager(testSecret, testIssuer, 8*time.Hour, auth.WithClock(clock.Now))
	account := testAccount(models.RoleTeacher)
	token, err := tm.GenerateAccessToken(account)
	require.NoError(t, err)

	changed := *account
	changedAt := clock.now.Add(10 * time.Minute)
	changed.PasswordChangedAt = &changedAt
	clock.Advance(20 * time.Minute)

	var seen *models.TokenClaims
	rr := serve(t, auth.Authenticate(tm, &stubAccounts{account: &changed}, discardLogger)(capture(&seen)), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	fresh, err := tm.GenerateAccessToken(&changed)
	require.NoError(t, err)
	rr = serve(t, auth.Authenticate(tm, &stubAccounts{account: &changed}, discardLogger)(capture(&seen)), "Bearer "+fresh)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAuthenticate_PasswordChangedInSameSecond(t *testing.T) {
	clock := newFakeClock()
	tm := auth.NewTokenManager(testSecret, testIssuer, 8*time.Hour, auth.WithClock(clock.Now))
	account := testAccount(models.RoleTeacher)
	firstSet := clock.now.Add(-time.Hour)
	account.PasswordChangedAt = &firstSet

	token, err := tm.GenerateAccessToken(account)
	require.NoError(t, err)

	// reset lands within the same second the token was issued
	changed := *account
	changedAt := clock.now.Add(300 * time.Millisecond)
	changed.PasswordChangedAt = &changedAt
	clock.Advance(500 * time.Millisecond)

	var seen *models.TokenClaims
	rr := serve(t, auth.Authenticate(tm, &stubAccounts{account: &changed}, discardLogger)(capture(&seen)), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, seen)

	fresh, err := tm.GenerateAccessToken(&changed)
	require.NoError(t, err)
	rr = serve(t, auth.Authenticate(tm, &stubAccounts{account: &changed}, discardLogger)(capture(&seen)), "Bearer "+fresh)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestCheckRole(t *testing.T) {
	teacher := &models.TokenClaims{Role: models.RoleTeacher}

	assert.NoError(t, auth.CheckRole(teacher, models.RoleTeacher))
	assert.NoError(t, auth.CheckRole(teacher, models.RoleAdmin, models.RoleTeacher))
	assert.ErrorIs(t, auth.CheckRole(teacher, models.RoleAdmin), models.ErrForbidden)
	assert.ErrorIs(t, auth.CheckRole(teacher), models.ErrForbidden, "empty allow-list admits nobody")
	assert.ErrorIs(t, auth.CheckRole(nil, models.RoleTeacher), models.ErrUnauthorized)
}

func TestRequireRole_Matrix(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, testIssuer, time.Hour)

	tests := []struct {
		role    models.Role
		allowed []models.Role
		want    int
	}{
		{models.RoleAdmin, []models.Role{models.RoleAdmin}, http.StatusNoContent},
		{models.RoleTeacher, []models.Role{models.RoleAdmin}, http.StatusForbidden},
		{models.RoleStudent, []models.Role{models.RoleAdmin, models.RoleTeacher}, http.StatusForbidden},
		{models.RoleTeacher, []models.Role{models.RoleAdmin, models.RoleTeacher}, http.StatusNoContent},
		{models.RoleStudent, []models.Role{models.RoleStudent}, http.StatusNoContent},
		{models.RoleAdmin, []models.Role{models.RoleTeacher}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			token, err := tm.GenerateAccessToken(testAccount(tt.role))
			require.NoError(t, err)

			var seen *models.TokenClaims
			h := auth.Authenticate(tm, nil, discardLogger)(auth.RequireRole(tt.allowed...)(capture(&seen)))
			rr := serve(t, h, "Bearer "+token)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestRequireRole_WithoutAuthenticate(t *testing.T) {
	var seen *models.TokenClaims
	rr := serve(t, auth.RequireRole(models.RoleAdmin)(capture(&seen)), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestNoBypassHeaders(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, testIssuer, time.Hour)
	var seen *models.TokenClaims
	h := auth.Authenticate(tm, nil, discardLogger)(auth.RequireRole(models.RoleAdmin)(capture(&seen)))

	req := httptest.NewRequest(http.MethodGet, "/protected?bypass=1&test=true", nil)
	req.Header.Set("X-Test-Bypass", "1")
	req.Header.Set("X-User-Role", "Admin")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Nil(t, seen)
}
