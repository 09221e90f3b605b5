package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/tenant"
)

// Statement is a customer's balance with the most recent ledger entries.
type Statement struct {
	Customer *models.Customer      `json:"customer"`
	Entries  []*models.LedgerEntry `json:"entries"`
}

func (e *Engine) Statement(ctx context.Context, tenantID, customerID uuid.UUID, limit int) (*Statement, error) {
	var st Statement
	err := tenant.InTx(ctx, e.db, tenantID, func(tx pgx.Tx) error {
		c, err := e.customers.Get(ctx, tx, tenantID, customerID)
		if err != nil {
			return err
		}
		entries, err := e.entries.ListByCustomer(ctx, tx, tenantID, customerID, limit)
		if err != nil {
			return err
		}
		st.Customer, st.Entries = c, entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Reconciliation compares the cached balance with the ledger sum.
type Reconciliation struct {
	CustomerID uuid.UUID `json:"customer_id"`
	Balance    int       `json:"balance"`
	LedgerSum  int       `json:"ledger_sum"`
}

func (r Reconciliation) Consistent() bool { return r.Balance == r.LedgerSum }

// Reconcile reads the balance and the ledger sum under the customer lock.
func (e *Engine) Reconcile(ctx context.Context, tenantID, customerID uuid.UUID) (*Reconciliation, error) {
	var rec Reconciliation
	err := tenant.InTx(ctx, e.db, tenantID, func(tx pgx.Tx) error {
		c, err := e.customers.GetForUpdate(ctx, tx, tenantID, customerID)
		if err != nil {
			return err
		}
		sum, err := e.entries.Sum(ctx, tx, tenantID, customerID)
		if err != nil {
			return err
		}
		rec = Reconciliation{CustomerID: c.ID, Balance: c.PointsBalance, LedgerSum: sum}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
