// Package mcpauth provides MCP-specific authentication middleware.
// It wraps the core auth service with RFC 6750 Bearer token error responses.
package mcpauth

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// AuthFailureRecorder receives rejected MCP requests.
type AuthFailureRecorder interface {
	RecordAuthFailure(reason, clientIP string)
}

// Middleware provides MCP-specific authentication middleware.
// Unlike the general auth middleware, this returns RFC 6750 WWW-Authenticate
// headers for OAuth 2.0 Bearer token authentication errors.
type Middleware struct {
	authService auth.AuthService
	recorder    AuthFailureRecorder
	logger      *zap.Logger
}

// NewMiddleware creates a new MCP auth middleware. recorder may be nil.
func NewMiddleware(authService auth.AuthService, recorder AuthFailureRecorder, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		recorder:    recorder,
		logger:      logger,
	}
}

// RequireAuth validates the JWT, its tenant and its role. The tenant of the
// token is the tenant every tool call runs in.
func (m *Middleware) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := m.authService.ValidateRequest(r)
			if err != nil {
				m.logger.Debug("MCP auth failed: invalid or missing token",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				m.reject(w, r, http.StatusUnauthorized, "invalid_token", "The access token is invalid or expired")
				return
			}

			if err := m.authService.RequireTenantID(claims); err != nil {
				m.logger.Debug("MCP auth failed: missing tenant",
					zap.String("path", r.URL.Path),
					zap.String("subject", claims.Subject))
				m.reject(w, r, http.StatusUnauthorized, "invalid_token", "The access token is missing required tenant scope")
				return
			}

			if !models.IsValidActorRole(models.ActorRole(claims.Role)) {
				m.logger.Warn("MCP auth failed: role not allowed",
					zap.String("subject", claims.Subject),
					zap.String("role", claims.Role))
				m.reject(w, r, http.StatusForbidden, "insufficient_scope", "The access token role may not use this server")
				return
			}

			ctx := auth.WithToken(auth.WithClaims(r.Context(), claims), token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, status int, errorCode, description string) {
	if m.recorder != nil {
		m.recorder.RecordAuthFailure(description, clientIP(r))
	}
	writeWWWAuthenticate(w, status, errorCode, description)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeWWWAuthenticate writes an RFC 6750 Bearer token error response.
// See: https://datatracker.ietf.org/doc/html/rfc6750#section-3
func writeWWWAuthenticate(w http.ResponseWriter, status int, errorCode, description string) {
	headerValue := `Bearer error="` + errorCode + `", error_description="` + description + `"`
	w.Header().Set("WWW-Authenticate", headerValue)
	w.WriteHeader(status)
}
