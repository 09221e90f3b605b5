package sweepers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/memstore"
	"github.com/loyalcore/backend/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (p *recordingPublisher) PublishTx(_ context.Context, _ pgx.Tx, _ uuid.UUID, event string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.data = append(p.data, data)
	return nil
}

type harness struct {
	store  *memstore.Store
	engine *ledger.Engine
	events *recordingPublisher
}

func newHarness() *harness {
	s := memstore.New()
	ev := &recordingPublisher{}
	return &harness{store: s, engine: ledger.NewEngine(s, s.Customers(), s.Ledger(), ev), events: ev}
}

func (h *harness) customer(tenantID uuid.UUID) uuid.UUID {
	id := uuid.New()
	h.store.AddCustomer(models.Customer{ID: id, TenantID: tenantID, IsActive: true})
	return id
}

func (h *harness) earn(t *testing.T, tenantID, customerID uuid.UUID, amount int, expiresAt *time.Time) *models.LedgerEntry {
	t.Helper()
	res, err := h.engine.Earn(context.Background(), tenantID, ledger.Posting{
		CustomerID:  customerID,
		Amount:      amount,
		Description: "purchase",
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)
	return res.Entry
}

func (h *harness) expirySweep() *Expiry {
	return NewExpiry(h.store, h.store.Tenants(), h.store.Ledger(), h.engine, zerolog.Nop())
}

func ago(d time.Duration) *time.Time {
	at := time.Now().Add(-d)
	return &at
}

func expiredFor(entries []models.LedgerEntry, earnID uuid.UUID) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range entries {
		if e.Type == models.LedgerEntryExpire && e.ReferenceID != nil && *e.ReferenceID == earnID {
			out = append(out, e)
		}
	}
	return out
}

func TestExpiry_ExpiresOnlyPastEntries(t *testing.T) {
	h := newHarness()
	tenantID := uuid.New()
	h.store.AddTenant(tenantID)
	c := h.customer(tenantID)

	old := h.earn(t, tenantID, c, 100, ago(time.Hour))
	future := time.Now().Add(24 * time.Hour)
	fresh := h.earn(t, tenantID, c, 40, &future)
	h.earn(t, tenantID, c, 10, nil)

	st, err := h.expirySweep().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, st.Tenants)
	assert.Equal(t, 1, st.Changed)
	assert.Equal(t, 0, st.Failed)
	assert.Equal(t, 50, h.store.Customer(c).PointsBalance)

	exp := expiredFor(h.store.Entries(c), old.ID)
	require.Len(t, exp, 1)
	assert.Equal(t, -100, exp[0].Amount)
	assert.Empty(t, expiredFor(h.store.Entries(c), fresh.ID))
}

func TestExpiry_SecondRunIsNoOp(t *testing.T) {
	h := newHarness()
	tenantID := uuid.New()
	h.store.AddTenant(tenantID)
	c := h.customer(tenantID)
	h.earn(t, tenantID, c, 80, ago(time.Minute))

	sweep := h.expirySweep()
	_, err := sweep.Run(context.Background())
	require.NoError(t, err)
	before := len(h.store.Entries(c))

	st, err := sweep.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Scanned)
	assert.Equal(t, 0, st.Changed)
	assert.Len(t, h.store.Entries(c), before)
	assert.Equal(t, 0, h.store.Customer(c).PointsBalance)
}

func TestExpiry_CapsAtCurrentBalance(t *testing.T) {
	h := newHarness()
	tenantID := uuid.New()
	h.store.AddTenant(tenantID)
	c := h.customer(tenantID)
	earned := h.earn(t, tenantID, c, 100, ago(time.Hour))

	_, err := h.engine.Burn(context.Background(), tenantID, ledger.Posting{CustomerID: c, Amount: 70, Description: "reward"})
	require.NoError(t, err)

	_, err = h.expirySweep().Run(context.Background())
	require.NoError(t, err)

	exp := expiredFor(h.store.Entries(c), earned.ID)
	require.Len(t, exp, 1)
	assert.Equal(t, -30, exp[0].Amount)
	assert.Equal(t, 0, h.store.Customer(c).PointsBalance)
}

func TestExpiry_ZeroBalanceIsSkipped(t *testing.T) {
	h := newHarness()
	tenantID := uuid.New()
	h.store.AddTenant(tenantID)
	c := h.customer(tenantID)
	earned := h.earn(t, tenantID, c, 50, ago(time.Hour))
	_, err := h.engine.Burn(context.Background(), tenantID, ledger.Posting{CustomerID: c, Amount: 50, Description: "reward"})
	require.NoError(t, err)

	st, err := h.expirySweep().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 0, st.Changed)
	exp := expiredFor(h.store.Entries(c), earned.ID)
	require.Len(t, exp, 1)
	assert.Equal(t, 0, exp[0].Amount)

	// Fresh points survive the next sweep.
	h.earn(t, tenantID, c, 40, nil)
	st, err = h.expirySweep().Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Scanned)
	assert.Equal(t, 40, h.store.Customer(c).PointsBalance)
}

func TestExpiry_PagesThroughEveryTenant(t *testing.T) {
	h := newHarness()
	var customers []uuid.UUID
	for range 2 {
		tenantID := uuid.New()
		h.store.AddTenant(tenantID)
		for range 5 {
			c := h.customer(tenantID)
			h.earn(t, tenantID, c, 10, ago(time.Hour))
			customers = append(customers, c)
		}
	}

	sweep := h.expirySweep()
	sweep.batch = 2
	st, err := sweep.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, st.Tenants)
	assert.Equal(t, 10, st.Changed)
	for _, c := range customers {
		assert.Equal(t, 0, h.store.Customer(c).PointsBalance)
	}
}

func TestTiers_AssignsHighestQualifyingTier(t *testing.T) {
	h := newHarness()
	tenantID := uuid.New()
	h.store.AddTenant(tenantID)
	bronze := models.Tier{ID: uuid.New(), TenantID: tenantID, Name: "Bronze", MinPoints: 0, Multiplier: 1}
	gold := models.Tier{ID: uuid.New(), TenantID: tenantID, Name: "Gold", MinPoints: 500, Multiplier: 1.5}
	h.store.AddTier(bronze)
	h.store.AddTier(gold)

	low := uuid.New()
	high := uuid.New()
	settled := uuid.New()
	h.store.AddCustomer(models.Customer{ID: low, TenantID: tenantID, IsActive: true, TotalPointsEarned: 120})
	h.store.AddCustomer(models.Customer{ID: high, TenantID: tenantID, IsActive: true, TotalPointsEarned: 900, TierID: &bronze.ID})
	h.store.AddCustomer(models.Customer{ID: settled, TenantID: tenantID, IsActive: true, TotalPointsEarned: 600, TierID: &gold.ID})

	sweep := NewTiers(h.store, h.store.Tenants(), h.store.Tiers(), h.store.Customers(), h.events, zerolog.Nop())
	sweep.batch = 2
	st, err := sweep.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, st.Scanned)
	assert.Equal(t, 2, st.Changed)
	assert.Equal(t, 1, st.Skipped)
	require.NotNil(t, h.store.Customer(low).TierID)
	assert.Equal(t, bronze.ID, *h.store.Customer(low).TierID)
	assert.Equal(t, gold.ID, *h.store.Customer(high).TierID)
	assert.Equal(t, []string{models.EventTierChanged, models.EventTierChanged}, h.events.events)

	for _, d := range h.events.data {
		change := d.(TierChange)
		if change.CustomerID == high {
			assert.Equal(t, bronze.ID, *change.FromTierID)
			assert.Equal(t, gold.ID, *change.ToTierID)
		}
	}

	st, err = sweep.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Changed)
	assert.Len(t, h.events.events, 2)
}

func TestTiers_IgnoresOtherTenantsTiers(t *testing.T) {
	h := newHarness()
	a, b := uuid.New(), uuid.New()
	h.store.AddTenant(a)
	h.store.AddTenant(b)
	h.store.AddTier(models.Tier{ID: uuid.New(), TenantID: b, Name: "Gold", MinPoints: 0, Multiplier: 2})

	c := uuid.New()
	h.store.AddCustomer(models.Customer{ID: c, TenantID: a, IsActive: true, TotalPointsEarned: 1000})

	sweep := NewTiers(h.store, h.store.Tenants(), h.store.Tiers(), h.store.Customers(), nil, zerolog.Nop())
	_, err := sweep.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, h.store.Customer(c).TierID)
}

func TestSameTier(t *testing.T) {
	id := uuid.New()
	other := uuid.New()
	assert.True(t, sameTier(nil, nil))
	assert.True(t, sameTier(&id, &id))
	assert.False(t, sameTier(&id, nil))
	assert.False(t, sameTier(&id, &other))
}

func TestPeriodicJobs(t *testing.T) {
	jobs := PeriodicJobs(time.Hour, 6*time.Hour)
	assert.Len(t, jobs, 2)
	assert.Equal(t, "points_expiry_sweep", ExpirySweepArgs{}.Kind())
	assert.Equal(t, "tier_recalculation_sweep", TierSweepArgs{}.Kind())
	assert.NotEmpty(t, ExpirySweepArgs{}.InsertOpts().UniqueOpts.ByState)
}
