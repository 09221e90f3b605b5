package stamps

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalcore/backend/internal/memstore"
	"github.com/loyalcore/backend/internal/models"
)

type eventLog struct {
	mu    sync.Mutex
	names []string
}

func (l *eventLog) PublishTx(_ context.Context, _ pgx.Tx, _ uuid.UUID, event string, _ any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, event)
	return nil
}

type fixture struct {
	store    *memstore.Store
	engine   *Engine
	events   *eventLog
	tenantID uuid.UUID
	req      Request
}

func newFixture(t *testing.T, required int) *fixture {
	t.Helper()
	s := memstore.New()
	f := &fixture{store: s, events: &eventLog{}, tenantID: uuid.New()}
	f.req = Request{CustomerID: uuid.New(), DefinitionID: uuid.New()}
	s.AddCustomer(models.Customer{ID: f.req.CustomerID, TenantID: f.tenantID, IsActive: true})
	s.AddDefinition(models.StampCardDefinition{
		ID: f.req.DefinitionID, TenantID: f.tenantID, Name: "Coffee", StampsRequired: required,
		RewardDescription: "Free coffee", IsActive: true,
	})
	f.engine = NewEngine(s, s.Customers(), s.Stamps(), f.events)
	return f
}

func TestAddStamp_CompletesOnFifthAndOpensNewCard(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	var first *models.StampCard
	for i := 1; i <= 4; i++ {
		card, err := f.engine.AddStamp(ctx, f.tenantID, f.req)
		require.NoError(t, err)
		assert.Equal(t, i, card.CurrentStamps)
		assert.False(t, card.IsCompleted)
		first = card
	}

	fifth, err := f.engine.AddStamp(ctx, f.tenantID, f.req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, fifth.ID)
	assert.Equal(t, 5, fifth.CurrentStamps)
	assert.True(t, fifth.IsCompleted)
	require.NotNil(t, fifth.CompletedAt)

	sixth, err := f.engine.AddStamp(ctx, f.tenantID, f.req)
	require.NoError(t, err)
	assert.NotEqual(t, fifth.ID, sixth.ID)
	assert.Equal(t, 1, sixth.CurrentStamps)
	assert.False(t, sixth.IsCompleted)

	cards := f.store.Cards(f.req.CustomerID)
	require.Len(t, cards, 2)
	assert.True(t, cards[0].IsCompleted)
	assert.Len(t, f.store.StampEvents(), 6)
	assert.Contains(t, f.events.names, models.EventStampCardCompleted)
}

func TestAddStamp_ConcurrentCallsShareOneOpenCard(t *testing.T) {
	f := newFixture(t, 100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.AddStamp(context.Background(), f.tenantID, f.req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cards := f.store.Cards(f.req.CustomerID)
	require.Len(t, cards, 1)
	assert.Equal(t, 20, cards[0].CurrentStamps)
}

func TestAddStamp_Rejections(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.engine.AddStamp(ctx, f.tenantID, Request{CustomerID: f.req.CustomerID, DefinitionID: uuid.New()})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.engine.AddStamp(ctx, f.tenantID, Request{CustomerID: uuid.New(), DefinitionID: f.req.DefinitionID})
	assert.ErrorIs(t, err, models.ErrNotFound)

	inactive := uuid.New()
	f.store.AddDefinition(models.StampCardDefinition{ID: inactive, TenantID: f.tenantID, StampsRequired: 3})
	_, err = f.engine.AddStamp(ctx, f.tenantID, Request{CustomerID: f.req.CustomerID, DefinitionID: inactive})
	assert.ErrorIs(t, err, models.ErrNotActive)

	assert.Empty(t, f.store.Cards(f.req.CustomerID))
	assert.Empty(t, f.store.StampEvents())
}
