package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// Middleware authenticates REST requests. Token checks live in AuthService.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger.Named("auth"),
	}
}

// RequireAuth admits a request only with a valid token that names a tenant
// and, when it carries a role, one of the actor roles. System tokens belong
// to background jobs and are refused at the HTTP edge.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.logger.Debug("Rejected request without valid token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="r2ready"`)
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		if err := m.authService.RequireTenantID(claims); err != nil {
			m.logger.Warn("Token without usable tenant",
				zap.String("subject", claims.Subject),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			writeAuthError(w, http.StatusBadRequest, "bad_request", "Missing tenant ID in token")
			return
		}

		if claims.Role != "" && !models.IsValidActorRole(models.ActorRole(claims.Role)) {
			m.logger.Warn("Token role not accepted over HTTP",
				zap.String("subject", claims.Subject),
				zap.String("role", claims.Role),
				zap.String("path", r.URL.Path))
			writeAuthError(w, http.StatusForbidden, "forbidden", "Token role is not permitted")
			return
		}

		ctx := WithToken(WithClaims(r.Context(), claims), token)
		next(w, r.WithContext(ctx))
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
