package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/tenant"
)

var (
	// ErrInsufficientBalance is returned when a burn exceeds the customer's balance.
	ErrInsufficientBalance = models.ErrInsufficientBalance
	// ErrNoOp is returned by ExpireEntry when the entry was already settled.
	ErrNoOp = errors.New("ledger: nothing to expire")
	// ErrNotExpirable is returned by ExpireEntry for entries that are not expired earn entries.
	ErrNotExpirable = errors.New("ledger: entry is not an expired earn entry")
)

// CustomerStore is the slice of the customer repository the engine needs.
type CustomerStore interface {
	Get(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error)
	UpdatePoints(ctx context.Context, tx pgx.Tx, c *models.Customer) error
}

// EntryStore is the append-only ledger table.
type EntryStore interface {
	Insert(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	Get(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.LedgerEntry, error)
	ListByCustomer(ctx context.Context, tx pgx.Tx, tenantID, customerID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
	Sum(ctx context.Context, tx pgx.Tx, tenantID, customerID uuid.UUID) (int, error)
	HasExpiry(ctx context.Context, tx pgx.Tx, tenantID, earnID uuid.UUID) (bool, error)
}

// Publisher records a domain event in the caller's transaction.
type Publisher interface {
	PublishTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string, data any) error
}

// Engine posts entries to the points ledger. Every posting locks the
// customer row, appends exactly one entry and rewrites the cached balance in
// the same transaction, so the balance always equals the sum of the ledger.
type Engine struct {
	db        tenant.TxBeginner
	customers CustomerStore
	entries   EntryStore
	events    Publisher
	now       func() time.Time
}

func NewEngine(db tenant.TxBeginner, customers CustomerStore, entries EntryStore, events Publisher) *Engine {
	return &Engine{db: db, customers: customers, entries: entries, events: events, now: time.Now}
}

// Posting describes one earn or burn.
type Posting struct {
	CustomerID  uuid.UUID
	Amount      int
	Description string
	Ref         *models.Reference
	ExpiresAt   *time.Time
}

// Result is the customer after the posting and the entry that was written.
type Result struct {
	Customer *models.Customer    `json:"customer"`
	Entry    *models.LedgerEntry `json:"entry"`
}

// PointsEvent is the payload of points.* events.
type PointsEvent struct {
	CustomerID    uuid.UUID  `json:"customer_id"`
	EntryID       uuid.UUID  `json:"entry_id"`
	Type          string     `json:"type"`
	Amount        int        `json:"amount"`
	BalanceAfter  int        `json:"balance_after"`
	ReferenceType *string    `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID `json:"reference_id,omitempty"`
}

func (e *Engine) Earn(ctx context.Context, tenantID uuid.UUID, p Posting) (*Result, error) {
	return e.inTx(ctx, tenantID, func(tx pgx.Tx) (*Result, error) {
		return e.EarnTx(ctx, tx, tenantID, p)
	})
}

func (e *Engine) Burn(ctx context.Context, tenantID uuid.UUID, p Posting) (*Result, error) {
	return e.inTx(ctx, tenantID, func(tx pgx.Tx) (*Result, error) {
		return e.BurnTx(ctx, tx, tenantID, p)
	})
}

// ExpireEntry posts an expire entry against an expired earn entry for
// min(earn amount, current balance). Returns ErrNoOp when that is zero or
// the entry was already expired.
func (e *Engine) ExpireEntry(ctx context.Context, tenantID, entryID uuid.UUID) (*Result, error) {
	return e.inTx(ctx, tenantID, func(tx pgx.Tx) (*Result, error) {
		return e.ExpireEntryTx(ctx, tx, tenantID, entryID)
	})
}

// EarnTx credits points inside the caller's tenant transaction.
func (e *Engine) EarnTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, p Posting) (*Result, error) {
	if p.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	res, err := e.post(ctx, tx, tenantID, p.CustomerID, models.LedgerEntryEarn, p.Amount, p, func(c *models.Customer) error {
		if !c.IsActive {
			return fmt.Errorf("customer %s: %w", c.ID, models.ErrNotActive)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.publish(ctx, tx, tenantID, models.EventPointsEarned, res.Entry); err != nil {
		return nil, err
	}
	return res, nil
}

// BurnTx debits points inside the caller's tenant transaction. The balance
// check happens after the row lock and before any write.
func (e *Engine) BurnTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, p Posting) (*Result, error) {
	if p.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	res, err := e.post(ctx, tx, tenantID, p.CustomerID, models.LedgerEntryBurn, -p.Amount, p, func(c *models.Customer) error {
		if c.PointsBalance < p.Amount {
			return ErrInsufficientBalance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.publish(ctx, tx, tenantID, models.EventPointsSpent, res.Entry); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) ExpireEntryTx(ctx context.Context, tx pgx.Tx, tenantID, entryID uuid.UUID) (*Result, error) {
	earn, err := e.entries.Get(ctx, tx, tenantID, entryID)
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	if earn.Type != models.LedgerEntryEarn || earn.ExpiresAt == nil || earn.ExpiresAt.After(e.now()) {
		return nil, ErrNotExpirable
	}

	// Lock first so two sweepers cannot both see "no expire entry yet".
	c, err := e.customers.GetForUpdate(ctx, tx, tenantID, earn.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("lock customer: %w", err)
	}
	done, err := e.entries.HasExpiry(ctx, tx, tenantID, earn.ID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, ErrNoOp
	}
	// With nothing left to take the earn is still settled, with a zero
	// expire entry, so points earned later are never expired against it.
	amount := max(min(earn.Amount, c.PointsBalance), 0)

	p := Posting{
		CustomerID:  c.ID,
		Description: fmt.Sprintf("Expired points from %s", earn.CreatedAt.Format(time.DateOnly)),
		Ref:         &models.Reference{Type: models.ReferenceLedgerEntry, ID: earn.ID},
	}
	res, err := e.write(ctx, tx, c, models.LedgerEntryExpire, -amount, p)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return res, nil
	}
	if err := e.publish(ctx, tx, tenantID, models.EventPointsExpired, res.Entry); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) post(ctx context.Context, tx pgx.Tx, tenantID, customerID uuid.UUID, kind string, delta int, p Posting, check func(*models.Customer) error) (*Result, error) {
	c, err := e.customers.GetForUpdate(ctx, tx, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("lock customer: %w", err)
	}
	if err := check(c); err != nil {
		return nil, err
	}
	return e.write(ctx, tx, c, kind, delta, p)
}

// write must be called with c locked.
func (e *Engine) write(ctx context.Context, tx pgx.Tx, c *models.Customer, kind string, delta int, p Posting) (*Result, error) {
	balance := c.PointsBalance + delta
	if balance < 0 {
		return nil, ErrInsufficientBalance
	}
	c.PointsBalance = balance
	if kind == models.LedgerEntryEarn {
		c.TotalPointsEarned += delta
	}

	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		TenantID:     c.TenantID,
		CustomerID:   c.ID,
		Type:         kind,
		Amount:       delta,
		BalanceAfter: balance,
		Description:  p.Description,
		ExpiresAt:    p.ExpiresAt,
	}
	if p.Ref != nil {
		refType, refID := p.Ref.Type, p.Ref.ID
		entry.ReferenceType = &refType
		entry.ReferenceID = &refID
	}

	if err := e.entries.Insert(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := e.customers.UpdatePoints(ctx, tx, c); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	return &Result{Customer: c, Entry: entry}, nil
}

func (e *Engine) publish(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string, entry *models.LedgerEntry) error {
	if e.events == nil {
		return nil
	}
	return e.events.PublishTx(ctx, tx, tenantID, event, PointsEvent{
		CustomerID:    entry.CustomerID,
		EntryID:       entry.ID,
		Type:          entry.Type,
		Amount:        entry.Amount,
		BalanceAfter:  entry.BalanceAfter,
		ReferenceType: entry.ReferenceType,
		ReferenceID:   entry.ReferenceID,
	})
}

func (e *Engine) inTx(ctx context.Context, tenantID uuid.UUID, fn func(tx pgx.Tx) (*Result, error)) (*Result, error) {
	var res *Result
	err := tenant.InTx(ctx, e.db, tenantID, func(tx pgx.Tx) error {
		var err error
		res, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
