package database

import (
	"context"

	"github.com/google/uuid"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
)

type contextKey string

const (
	// TenantScopeKey is the context key for storing the tenant-scoped database connection.
	TenantScopeKey contextKey = "tenantScope"
)

// GetTenantScope retrieves the tenant-scoped database connection from context.
// Returns nil and false if not present.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(TenantScopeKey).(*TenantScope)
	return scope, ok && scope != nil
}

// SetTenantScope stores the tenant-scoped database connection in context.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, TenantScopeKey, scope)
}

// RequireTenantScope returns the tenant scope or a TenantIsolationError.
// System scopes are refused: tenant data is only reachable with a tenant bound.
func RequireTenantScope(ctx context.Context, operation string) (*TenantScope, error) {
	scope, ok := GetTenantScope(ctx)
	if !ok {
		return nil, &apperrors.TenantIsolationError{Operation: operation, Reason: "no tenant scope in context"}
	}
	if scope.TenantID == uuid.Nil {
		return nil, &apperrors.TenantIsolationError{Operation: operation, Reason: "tenant scope has no tenant"}
	}
	return scope, nil
}

// RequireAnyScope accepts tenant or system scopes. Used by cross-tenant jobs.
func RequireAnyScope(ctx context.Context, operation string) (*TenantScope, error) {
	scope, ok := GetTenantScope(ctx)
	if !ok {
		return nil, &apperrors.TenantIsolationError{Operation: operation, Reason: "no scope in context"}
	}
	if !scope.System && scope.TenantID == uuid.Nil {
		return nil, &apperrors.TenantIsolationError{Operation: operation, Reason: "scope has no tenant"}
	}
	return scope, nil
}

// TenantScopeProvider creates tenant-scoped contexts for database operations.
// The MCP server uses it to bind each tool call to the caller's tenant.
type TenantScopeProvider struct {
	opener ScopeOpener
}

// NewTenantScopeProvider creates a TenantScopeProvider for the given opener.
func NewTenantScopeProvider(opener ScopeOpener) *TenantScopeProvider {
	return &TenantScopeProvider{opener: opener}
}

// WithTenantScope returns a context with tenant scope set for the given tenant.
// The cleanup function must be called when the scope is no longer needed.
func (p *TenantScopeProvider) WithTenantScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.opener.WithTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	tenantCtx := SetTenantScope(ctx, scope)
	return tenantCtx, func() { scope.Close() }, nil
}

// WithSystemScope returns a context bound to a system scope.
func (p *TenantScopeProvider) WithSystemScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.opener.WithoutTenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetTenantScope(ctx, scope), func() { scope.Close() }, nil
}
