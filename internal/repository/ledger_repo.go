package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

// LedgerRepo is append-only: there is deliberately no Update or Delete.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const ledgerColumns = `id, tenant_id, customer_id, type, amount, balance_after, description, reference_type, reference_id, expires_at, created_at`

func scanLedgerEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.CustomerID, &e.Type, &e.Amount, &e.BalanceAfter, &e.Description, &e.ReferenceType, &e.ReferenceID, &e.ExpiresAt, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func collectLedgerEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	defer rows.Close()
	list := []*models.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// Insert appends an entry inside the given transaction.
func (r *LedgerRepo) Insert(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, tenant_id, customer_id, type, amount, balance_after, description, reference_type, reference_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, e.ID, e.TenantID, e.CustomerID, e.Type, e.Amount, e.BalanceAfter, e.Description, e.ReferenceType, e.ReferenceID, e.ExpiresAt).Scan(&e.CreatedAt)
}

func (r *LedgerRepo) Get(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.LedgerEntry, error) {
	return scanLedgerEntry(tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
}

// ListByCustomer returns the newest entries first.
func (r *LedgerRepo) ListByCustomer(ctx context.Context, tx pgx.Tx, tenantID, customerID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE tenant_id = $1 AND customer_id = $2
		ORDER BY seq DESC
		LIMIT $3
	`, tenantID, customerID, limit)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}

// Sum reconstructs a customer's balance from the ledger.
func (r *LedgerRepo) Sum(ctx context.Context, tx pgx.Tx, tenantID, customerID uuid.UUID) (int, error) {
	var total int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries WHERE tenant_id = $1 AND customer_id = $2
	`, tenantID, customerID).Scan(&total)
	return total, err
}

// HasExpiry reports whether an expire entry already references earnID.
func (r *LedgerRepo) HasExpiry(ctx context.Context, tx pgx.Tx, tenantID, earnID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE tenant_id = $1 AND type = 'expire' AND reference_id = $2
		)
	`, tenantID, earnID).Scan(&exists)
	return exists, err
}

// ExpiryCursor is the keyset position of the expiry sweep.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        uuid.UUID
}

// ListExpiredEarn returns earn entries that expired before now and have no
// expire entry yet, ordered by (expires_at, id) after cursor.
func (r *LedgerRepo) ListExpiredEarn(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, now time.Time, after ExpiryCursor, limit int) ([]*models.LedgerEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries e
		WHERE e.tenant_id = $1
		  AND e.type = 'earn'
		  AND e.expires_at IS NOT NULL
		  AND e.expires_at <= $2
		  AND (e.expires_at, e.id) > ($3, $4)
		  AND NOT EXISTS (
			SELECT 1 FROM ledger_entries x
			WHERE x.tenant_id = e.tenant_id AND x.type = 'expire' AND x.reference_id = e.id
		  )
		ORDER BY e.expires_at, e.id
		LIMIT $5
	`, tenantID, now, after.ExpiresAt, after.ID, limit)
	if err != nil {
		return nil, err
	}
	return collectLedgerEntries(rows)
}
