// Package tenant carries the calling tenant explicitly through request
// contexts and binds every storage transaction to it.
package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/models"
)

type ctxKey struct{}

// ErrRequired is returned when no tenant is bound to the context.
var ErrRequired = models.ErrTenantRequired

// WithID returns a context bound to tenantID.
func WithID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext returns the tenant bound to ctx, if any.
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// Require returns the bound tenant or ErrRequired.
func Require(ctx context.Context) (uuid.UUID, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, ErrRequired
	}
	return id, nil
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Begin opens a transaction and scopes it to tenantID. The setting is
// transaction-local and disappears on Commit or Rollback.
func Begin(ctx context.Context, db TxBeginner, tenantID uuid.UUID) (pgx.Tx, error) {
	if tenantID == uuid.Nil {
		return nil, ErrRequired
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true)`, tenantID.String()); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("bind tenant: %w", err)
	}
	return tx, nil
}

// InTx runs fn in a tenant-scoped transaction, committing only when fn succeeds.
func InTx(ctx context.Context, db TxBeginner, tenantID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := Begin(ctx, db, tenantID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
