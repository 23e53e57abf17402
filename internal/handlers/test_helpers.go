package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mpnag/discipline/internal/auth"
	"github.com/mpnag/discipline/internal/models"
	"github.com/mpnag/discipline/internal/services"
	pkghttp "github.com/mpnag/discipline/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context
func WithAuthContext(req *http.Request, accountID string, role models.Role) *http.Request {
	claims := &models.TokenClaims{
		Type: models.TokenTypeAccess,
		Role: role,
	}
	claims.Subject = accountID
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc                 func(ctx context.Context, identifier, password, clientIP, userAgent string) (*services.AuthResponse, error)
	RefreshFunc               func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc                func(ctx context.Context, accountID, refreshToken string) error
	LogoutAllFunc             func(ctx context.Context, accountID string) (int64, error)
	ListSessionsFunc          func(ctx context.Context, accountID string) ([]models.Session, error)
	RevokeAccountSessionsFunc func(ctx context.Context, actor *models.TokenClaims, accountID string) (int64, error)
	MeFunc                    func(ctx context.Context, accountID string) (*models.AccountSummary, error)
}

func (m *MockAuthService) Login(ctx context.Context, identifier, password, clientIP, userAgent string) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, identifier, password, clientIP, userAgent)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, models.ErrInvalidRefreshToken
}

func (m *MockAuthService) Logout(ctx context.Context, accountID, refreshToken string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, accountID, refreshToken)
	}
	return nil
}

func (m *MockAuthService) LogoutAll(ctx context.Context, accountID string) (int64, error) {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, accountID)
	}
	return 0, nil
}

func (m *MockAuthService) ListSessions(ctx context.Context, accountID string) ([]models.Session, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx, accountID)
	}
	return []models.Session{}, nil
}

func (m *MockAuthService) RevokeAccountSessions(ctx context.Context, actor *models.TokenClaims, accountID string) (int64, error) {
	if m.RevokeAccountSessionsFunc != nil {
		return m.RevokeAccountSessionsFunc(ctx, actor, accountID)
	}
	return 0, nil
}

func (m *MockAuthService) Me(ctx context.Context, accountID string) (*models.AccountSummary, error) {
	if m.MeFunc != nil {
		return m.MeFunc(ctx, accountID)
	}
	return nil, models.ErrUnauthorized
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestResetFunc  func(ctx context.Context, email string) *services.ResetRequestResult
	ResetPasswordFunc func(ctx context.Context, token, newPassword string) error
}

func (m *MockPasswordResetService) RequestReset(ctx context.Context, email string) *services.ResetRequestResult {
	if m.RequestResetFunc != nil {
		return m.RequestResetFunc(ctx, email)
	}
	return &services.ResetRequestResult{}
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, newPassword)
	}
	return nil
}

// MockPinger implements Pinger for testing
type MockPinger struct {
	Err error
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Err
}
