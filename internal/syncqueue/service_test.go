package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/memstore"
	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/rewards"
	"github.com/loyalcore/backend/internal/stamps"
	"github.com/loyalcore/backend/internal/transactions"
)

type fixture struct {
	store      *memstore.Store
	svc        *Service
	device     *models.KioskDevice
	customer   uuid.UUID
	reward     uuid.UUID
	definition uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	tenantID := uuid.New()
	f := &fixture{
		store:      s,
		device:     &models.KioskDevice{ID: uuid.New(), TenantID: tenantID, LocationID: uuid.New(), IsActive: true},
		customer:   uuid.New(),
		reward:     uuid.New(),
		definition: uuid.New(),
	}
	s.AddTenant(tenantID)
	s.AddCustomer(models.Customer{ID: f.customer, TenantID: tenantID, IsActive: true})
	s.AddReward(models.Reward{ID: f.reward, TenantID: tenantID, Name: "Muffin", PointsCost: 50, IsActive: true})
	s.AddDefinition(models.StampCardDefinition{ID: f.definition, TenantID: tenantID, StampsRequired: 5, IsActive: true})
	s.AddProgram(models.Program{ID: uuid.New(), TenantID: tenantID, IsActive: true, Rules: []models.EarnRule{
		{ID: uuid.New(), Type: models.EarnRulePerAmount, Value: 100, IsActive: true},
	}})

	engine := ledger.NewEngine(s, s.Customers(), s.Ledger(), nil)
	f.svc = NewService(
		s,
		s.Sync(),
		engine,
		rewards.NewService(s, s.Rewards(), engine, nil),
		stamps.NewEngine(s, s.Customers(), s.Stamps(), nil),
		transactions.NewService(s, s.Customers(), s.Programs(), s.Tiers(), s.TransactionsRepo(), engine, nil),
		zerolog.Nop(),
	)
	return f
}

func item(key, op, payload string) Item {
	return Item{IdempotencyKey: key, Operation: op, Payload: json.RawMessage(payload)}
}

func (f *fixture) addPoints(key string, points int) Item {
	return item(key, models.SyncOpAddPoints, fmt.Sprintf(`{"customerId":%q,"points":%d}`, f.customer, points))
}

func (f *fixture) redeem(key string) Item {
	return item(key, models.SyncOpRedeemReward, fmt.Sprintf(`{"customerId":%q,"rewardId":%q}`, f.customer, f.reward))
}

func (f *fixture) stamp(key string) Item {
	return item(key, models.SyncOpAddStamp, fmt.Sprintf(`{"customerId":%q,"definitionId":%q}`, f.customer, f.definition))
}

func (f *fixture) purchase(key string, amount int64) Item {
	return item(key, models.SyncOpRecordTransaction, fmt.Sprintf(`{"customerId":%q,"amount":%d}`, f.customer, amount))
}

func statuses(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}

func TestApply_ReplayIsSkipped(t *testing.T) {
	f := newFixture(t)
	batch := []Item{f.addPoints("a", 10)}

	first := f.svc.Apply(context.Background(), f.device, batch)
	require.Len(t, first, 1)
	assert.Equal(t, "a", first[0].IdempotencyKey)
	assert.Equal(t, models.SyncResultProcessed, first[0].Status)
	assert.NotEmpty(t, first[0].Data)
	assert.Equal(t, 10, f.store.Customer(f.customer).PointsBalance)

	second := f.svc.Apply(context.Background(), f.device, batch)
	require.Len(t, second, 1)
	assert.Equal(t, models.SyncResultSkipped, second[0].Status)
	assert.JSONEq(t, string(first[0].Data), string(second[0].Data))
	assert.Equal(t, 10, f.store.Customer(f.customer).PointsBalance)
	assert.Len(t, f.store.Entries(f.customer), 1)

	rec, ok := f.store.SyncItem(f.device.TenantID, f.device.ID, "a")
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusProcessed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestApply_ItemFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	batch := []Item{
		f.addPoints("p1", 20),
		f.redeem("r1"), // costs 50, balance is 20
		f.stamp("s1"),
		item("bad", models.SyncOpAddPoints, `{"customerId":"not-a-uuid"}`),
		f.purchase("t1", 1250),
	}

	results := f.svc.Apply(context.Background(), f.device, batch)
	assert.Equal(t, []string{
		models.SyncResultProcessed,
		models.SyncResultError,
		models.SyncResultProcessed,
		models.SyncResultError,
		models.SyncResultProcessed,
	}, statuses(results))
	assert.Contains(t, results[1].Message, models.ErrInsufficientBalance.Error())

	c := f.store.Customer(f.customer)
	assert.Equal(t, 32, c.PointsBalance) // 20 + floor(1250/100)
	assert.Equal(t, int64(1250), c.TotalSpent)
	assert.Empty(t, f.store.Redemptions())
	require.Len(t, f.store.Cards(f.customer), 1)

	rec, ok := f.store.SyncItem(f.device.TenantID, f.device.ID, "r1")
	require.True(t, ok)
	assert.Equal(t, models.SyncStatusError, rec.Status)
	require.NotNil(t, rec.ErrorMessage)

	replay := f.svc.Apply(context.Background(), f.device, batch)
	for _, r := range replay {
		assert.Equal(t, models.SyncResultSkipped, r.Status, r.IdempotencyKey)
	}
	assert.Equal(t, results[1].Message, replay[1].Message)
	assert.Equal(t, 32, f.store.Customer(f.customer).PointsBalance)
	assert.Len(t, f.store.Cards(f.customer), 1)
	assert.Equal(t, 1, f.store.Cards(f.customer)[0].CurrentStamps)
}

func TestApply_RespectsBatchOrder(t *testing.T) {
	f := newFixture(t)

	results := f.svc.Apply(context.Background(), f.device, []Item{f.addPoints("earn", 50), f.redeem("spend")})
	assert.Equal(t, []string{models.SyncResultProcessed, models.SyncResultProcessed}, statuses(results))
	assert.Equal(t, 0, f.store.Customer(f.customer).PointsBalance)

	red := f.store.Redemptions()
	require.Len(t, red, 1)
	require.NotNil(t, red[0].LocationID)
	assert.Equal(t, f.device.LocationID, *red[0].LocationID)
}

func TestApply_KeysAreScopedPerDevice(t *testing.T) {
	f := newFixture(t)
	other := &models.KioskDevice{ID: uuid.New(), TenantID: f.device.TenantID, LocationID: f.device.LocationID, IsActive: true}

	r1 := f.svc.Apply(context.Background(), f.device, []Item{f.addPoints("same", 5)})
	r2 := f.svc.Apply(context.Background(), other, []Item{f.addPoints("same", 5)})

	assert.Equal(t, models.SyncResultProcessed, r1[0].Status)
	assert.Equal(t, models.SyncResultProcessed, r2[0].Status)
	assert.Equal(t, 10, f.store.Customer(f.customer).PointsBalance)
}

func TestApply_ConcurrentResubmissionAppliesOnce(t *testing.T) {
	f := newFixture(t)
	batch := []Item{f.addPoints("k", 10), f.stamp("s")}

	var wg sync.WaitGroup
	results := make([][]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.Apply(context.Background(), f.device, batch)
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, rs := range results {
		for _, r := range rs {
			if r.Status == models.SyncResultProcessed {
				processed++
			} else {
				assert.Equal(t, models.SyncResultSkipped, r.Status)
			}
		}
	}
	assert.Equal(t, 2, processed)
	assert.Equal(t, 10, f.store.Customer(f.customer).PointsBalance)
	assert.Equal(t, 1, f.store.Cards(f.customer)[0].CurrentStamps)
}

func TestApply_TransientFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.store.Fail("sync.Claim", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"})

	results := f.svc.Apply(context.Background(), f.device, []Item{f.addPoints("a", 7)})
	assert.Equal(t, models.SyncResultProcessed, results[0].Status)
	assert.Equal(t, 7, f.store.Customer(f.customer).PointsBalance)
	assert.Equal(t, 2, f.store.Begins())
}

func TestApply_ExhaustedRetriesLeaveKeyUnclaimed(t *testing.T) {
	f := newFixture(t)
	deadlock := &pgconn.PgError{Code: "40P01"}
	f.store.Fail("sync.Claim", deadlock, deadlock, deadlock)

	results := f.svc.Apply(context.Background(), f.device, []Item{f.addPoints("a", 7)})
	assert.Equal(t, models.SyncResultError, results[0].Status)
	_, ok := f.store.SyncItem(f.device.TenantID, f.device.ID, "a")
	assert.False(t, ok)

	results = f.svc.Apply(context.Background(), f.device, []Item{f.addPoints("a", 7)})
	assert.Equal(t, models.SyncResultProcessed, results[0].Status)
	assert.Equal(t, 7, f.store.Customer(f.customer).PointsBalance)
}
