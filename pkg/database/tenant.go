package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by a pooled connection and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TenantScope wraps a connection with tenant context and ensures cleanup.
// The connection has app.current_tenant_id set for RLS policy evaluation.
//
// A scope without a connection is "detached": it carries only the tenant
// identity and is used by the in-memory store.
type TenantScope struct {
	TenantID uuid.UUID
	// System scopes bypass RLS. Only background jobs (outbox relay) use them.
	System bool
	Conn   *pgxpool.Conn
	Tx     pgx.Tx
}

// NewDetachedScope returns a scope that carries tenant identity only.
func NewDetachedScope(tenantID uuid.UUID) *TenantScope {
	return &TenantScope{TenantID: tenantID}
}

// NewDetachedSystemScope returns a detached scope for background jobs.
func NewDetachedSystemScope() *TenantScope {
	return &TenantScope{System: true}
}

// DB returns the active transaction if one is open, else the connection.
func (s *TenantScope) DB() Querier {
	if s.Tx != nil {
		return s.Tx
	}
	return s.Conn
}

// Detached reports whether the scope has no database connection.
func (s *TenantScope) Detached() bool {
	return s.Conn == nil
}

// Close resets tenant context and releases connection to pool.
// This MUST be called to prevent tenant context from leaking to the next request.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	// Reset the tenant context before returning connection to pool
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_tenant_id")
	_, _ = s.Conn.Exec(context.Background(), "RESET app.system_scope")
	s.Conn.Release()
}

// WithTenant acquires a connection and sets the tenant context for RLS.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithTenant(ctx context.Context, tenantID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_tenant_id', $1, false)", tenantID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{TenantID: tenantID, Conn: conn}, nil
}

// WithoutTenant acquires a connection in system scope.
// Use this only for jobs that span tenants, such as the outbox relay.
// The returned TenantScope MUST be closed with defer scope.Close().
func (db *DB) WithoutTenant(ctx context.Context) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.system_scope', 'on', false)")
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &TenantScope{System: true, Conn: conn}, nil
}

// ScopeOpener opens tenant and system scopes.
type ScopeOpener interface {
	WithTenant(ctx context.Context, tenantID uuid.UUID) (*TenantScope, error)
	WithoutTenant(ctx context.Context) (*TenantScope, error)
}

// DetachedOpener opens detached scopes for the in-memory store.
type DetachedOpener struct{}

func (DetachedOpener) WithTenant(_ context.Context, tenantID uuid.UUID) (*TenantScope, error) {
	return NewDetachedScope(tenantID), nil
}

func (DetachedOpener) WithoutTenant(_ context.Context) (*TenantScope, error) {
	return NewDetachedSystemScope(), nil
}

var (
	_ ScopeOpener = (*DB)(nil)
	_ ScopeOpener = DetachedOpener{}
)
