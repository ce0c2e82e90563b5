package handlers

import (
	"net/http"
	"slices"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// TenantMiddleware opens the tenant-scoped connection for a request.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// callerRole returns the caller's role from the JWT claims.
func callerRole(r *http.Request) models.ActorRole {
	return models.ActorRole(auth.GetRoleFromContext(r.Context()))
}

// requireRole rejects callers whose role is not one of roles.
func requireRole(next http.HandlerFunc, roles ...models.ActorRole) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(roles, callerRole(r)) {
			_ = ErrorResponse(w, http.StatusForbidden, "forbidden", "Role not permitted for this operation")
			return
		}
		next(w, r)
	}
}
