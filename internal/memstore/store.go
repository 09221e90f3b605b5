// Package memstore is a test helper: an in-memory implementation of the
// repository layer shared by the service tests of several packages. It
// honours row locks, savepoints and the tenant binding of a transaction so
// those tests exercise the same locking discipline as Postgres. Production
// code never imports it.
package memstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loyalcore/backend/internal/models"
)

type syncKey struct {
	tenant, device uuid.UUID
	key            string
}

// Store holds committed state. Writes made through a Tx become visible only
// on Commit.
type Store struct {
	Now func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	faults map[string][]error
	begins int

	tenants      []uuid.UUID
	customers    map[uuid.UUID]*models.Customer
	entries      []*models.LedgerEntry
	tiers        []*models.Tier
	programs     []*models.Program
	transactions []*models.Transaction
	rewards      map[uuid.UUID]*models.Reward
	redemptions  []*models.Redemption
	definitions  map[uuid.UUID]*models.StampCardDefinition
	cards        []*models.StampCard
	stampEvents  []*models.StampEvent
	syncItems    map[syncKey]*models.SyncQueueItem
	endpoints    []*models.WebhookEndpoint
	deliveries   []*models.WebhookDelivery
}

func New() *Store {
	return &Store{
		Now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
		faults:      make(map[string][]error),
		customers:   make(map[uuid.UUID]*models.Customer),
		rewards:     make(map[uuid.UUID]*models.Reward),
		definitions: make(map[uuid.UUID]*models.StampCardDefinition),
		syncItems:   make(map[syncKey]*models.SyncQueueItem),
	}
}

// Fail queues errs to be returned, one per call, by the named operation
// (e.g. "ledger.Insert").
func (s *Store) Fail(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

func (s *Store) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.faults[op]
	if len(q) == 0 {
		return nil
	}
	s.faults[op] = q[1:]
	return q[0]
}

// Begins reports how many top-level transactions were opened.
func (s *Store) Begins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}

// Begin satisfies tenant.TxBeginner.
func (s *Store) Begin(context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	s.begins++
	s.mu.Unlock()
	return &Tx{store: s, held: make(map[string]*sync.Mutex)}, nil
}

// Tx buffers writes until Commit. Methods not overridden panic through the
// nil embedded interface.
type Tx struct {
	pgx.Tx

	store  *Store
	parent *Tx
	held   map[string]*sync.Mutex
	ops    []func()
	closed bool
	tenant string
}

var errNoTenant = errors.New("memstore: transaction has no tenant bound")

func (t *Tx) root() *Tx {
	r := t
	for r.parent != nil {
		r = r.parent
	}
	return r
}

func (t *Tx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "set_config") && len(args) > 0 {
		if v, ok := args[0].(string); ok {
			t.root().tenant = v
		}
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

// Begin opens a savepoint.
func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	if t.closed {
		return nil, pgx.ErrTxClosed
	}
	return &Tx{store: t.store, parent: t}, nil
}

func (t *Tx) Commit(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	if t.parent != nil {
		t.parent.ops = append(t.parent.ops, t.ops...)
		return nil
	}
	t.store.mu.Lock()
	for _, op := range t.ops {
		op()
	}
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.ops = nil
	if t.parent == nil {
		t.release()
	}
	return nil
}

func (t *Tx) release() {
	for k, m := range t.held {
		m.Unlock()
		delete(t.held, k)
	}
}

// lock emulates SELECT ... FOR UPDATE: held until the top-level tx ends.
func (t *Tx) lock(key string) {
	root := t.root()
	if _, ok := root.held[key]; ok {
		return
	}
	s := t.store
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	root.held[key] = m
}

func (t *Tx) stage(op func()) {
	t.ops = append(t.ops, op)
}

// visible emulates row-level security: only rows of the bound tenant exist.
func (t *Tx) visible(tenantID uuid.UUID) error {
	bound := t.root().tenant
	if bound == "" {
		return errNoTenant
	}
	if bound != tenantID.String() {
		return models.ErrNotFound
	}
	return nil
}

func asTx(tx pgx.Tx) *Tx {
	return tx.(*Tx)
}

func lessID(a, b uuid.UUID) bool {
	return strings.Compare(string(a[:]), string(b[:])) < 0
}
