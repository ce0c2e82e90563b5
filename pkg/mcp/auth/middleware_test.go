package mcpauth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
)

// mockAuthService is a mock implementation of auth.AuthService for testing.
type mockAuthService struct {
	claims           *auth.Claims
	token            string
	validateErr      error
	requireTenantErr error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if m.validateErr != nil {
		return nil, "", m.validateErr
	}
	return m.claims, m.token, nil
}

func (m *mockAuthService) RequireTenantID(claims *auth.Claims) error {
	return m.requireTenantErr
}

type recordedFailure struct{ reason, ip string }

type mockRecorder struct{ failures []recordedFailure }

func (m *mockRecorder) RecordAuthFailure(reason, clientIP string) {
	m.failures = append(m.failures, recordedFailure{reason, clientIP})
}

func TestRequireAuth_Success(t *testing.T) {
	claims := &auth.Claims{TenantID: "550e8400-e29b-41d4-a716-446655440000", Role: "auditor"}
	mw := NewMiddleware(&mockAuthService{claims: claims, token: "tok"}, nil, zap.NewNop())

	var got *auth.Claims
	var token string
	handler := mw.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.GetClaims(r.Context())
		token, _ = auth.GetToken(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Same(t, claims, got)
	assert.Equal(t, "tok", token)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestRequireAuth_Failures(t *testing.T) {
	tenant := "550e8400-e29b-41d4-a716-446655440000"
	tests := []struct {
		name       string
		svc        *mockAuthService
		wantStatus int
		wantError  string
	}{
		{"invalid token", &mockAuthService{validateErr: errors.New("expired")}, http.StatusUnauthorized, "invalid_token"},
		{"missing tenant", &mockAuthService{claims: &auth.Claims{}, requireTenantErr: auth.ErrMissingTenantID}, http.StatusUnauthorized, "invalid_token"},
		{"system role", &mockAuthService{claims: &auth.Claims{TenantID: tenant, Role: "system"}}, http.StatusForbidden, "insufficient_scope"},
		{"no role", &mockAuthService{claims: &auth.Claims{TenantID: tenant}}, http.StatusForbidden, "insufficient_scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &mockRecorder{}
			mw := NewMiddleware(tt.svc, recorder, zap.NewNop())
			called := false
			handler := mw.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			req.RemoteAddr = "203.0.113.9:4711"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, tt.wantStatus, rec.Code)
			header := rec.Header().Get("WWW-Authenticate")
			assert.True(t, strings.HasPrefix(header, `Bearer error="`+tt.wantError+`"`), header)
			if assert.Len(t, recorder.failures, 1) {
				assert.Equal(t, "203.0.113.9", recorder.failures[0].ip)
			}
		})
	}
}
