package database

import (
	"context"
	"errors"
	"fmt"
)

// WithinTx runs fn inside a transaction on the scope's connection. The context
// passed to fn carries a child scope whose DB() is the transaction. Nested
// calls join the outer transaction.
func WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, err := RequireAnyScope(ctx, "begin transaction")
	if err != nil {
		return err
	}
	if scope.Tx != nil {
		return fn(ctx)
	}
	if scope.Conn == nil {
		return errors.New("tenant scope has no connection")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	child := &TenantScope{
		TenantID: scope.TenantID,
		System:   scope.System,
		Conn:     scope.Conn,
		Tx:       tx,
	}
	if err := fn(SetTenantScope(ctx, child)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
