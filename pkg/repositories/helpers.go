package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
)

// TxRunner runs fn atomically. Every repository call made with the context
// passed to fn joins the same unit of work.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type pgTxRunner struct{}

// NewTxRunner returns a TxRunner backed by a pgx transaction on the tenant scope.
func NewTxRunner() TxRunner {
	return pgTxRunner{}
}

func (pgTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithinTx(ctx, fn)
}

// claimTenant stamps the scope's tenant on a new row, or refuses a row that
// names a different tenant.
func claimTenant(scope *database.TenantScope, tenantID *uuid.UUID, operation string) error {
	if *tenantID == uuid.Nil {
		*tenantID = scope.TenantID
		return nil
	}
	if *tenantID != scope.TenantID {
		return &apperrors.TenantIsolationError{
			Operation: operation,
			Reason:    "row tenant " + tenantID.String() + " does not match scope",
		}
	}
	return nil
}

// checkTenant verifies a row read from storage belongs to the scope's tenant.
func checkTenant(scope *database.TenantScope, rowTenant uuid.UUID, operation string) error {
	if rowTenant != scope.TenantID {
		return &apperrors.TenantIsolationError{
			Operation: operation,
			Reason:    "row belongs to another tenant",
		}
	}
	return nil
}

// isUniqueViolation reports a PostgreSQL 23505 error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func jsonbValue(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilUUIDs(s []uuid.UUID) []uuid.UUID {
	if s == nil {
		return []uuid.UUID{}
	}
	return s
}
