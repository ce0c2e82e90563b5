package database

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
)

// WithTenantContext opens the tenant scope named by the JWT claims and holds
// it for the rest of the request. It must run after auth middleware.
func WithTenantContext(opener ScopeOpener, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	logger = logger.Named("tenant-scope")
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tenantID, status, code := tenantFromClaims(r.Context())
			if status != 0 {
				logger.Error("Request reached tenant middleware without a usable tenant",
					zap.String("path", r.URL.Path),
					zap.String("code", code))
				writeScopeError(w, status, code)
				return
			}

			start := time.Now()
			scope, err := opener.WithTenant(r.Context(), tenantID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("Client went away while acquiring tenant scope",
						zap.String("tenant_id", tenantID.String()))
					return
				}
				logger.Error("Failed to acquire tenant connection",
					zap.String("tenant_id", tenantID.String()),
					zap.Duration("waited", time.Since(start)),
					zap.Error(err))
				writeScopeError(w, http.StatusServiceUnavailable, "database_unavailable")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetTenantScope(r.Context(), scope)))
		}
	}
}

// tenantFromClaims returns the claimed tenant, or an HTTP status and error
// code when it is missing or malformed.
func tenantFromClaims(ctx context.Context) (uuid.UUID, int, string) {
	claims, ok := auth.GetClaims(ctx)
	if !ok || claims.TenantID == "" {
		return uuid.Nil, http.StatusInternalServerError, "missing_tenant_context"
	}
	id, err := uuid.Parse(claims.TenantID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, http.StatusBadRequest, "invalid_tenant_id"
	}
	return id, 0, ""
}

var scopeErrorMessages = map[string]string{
	"missing_tenant_context": "Missing tenant context",
	"invalid_tenant_id":      "Invalid tenant ID format",
	"database_unavailable":   "Database connection error",
}

func writeScopeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": scopeErrorMessages[code],
	})
}
