package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/repository"
)

// Customers mirrors repository.CustomerRepo.
type Customers struct{ s *Store }

func (s *Store) Customers() *Customers { return &Customers{s} }

func (r *Customers) read(tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.customers[id]
	if !ok || c.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Customers) Get(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error) {
	return r.read(tx, tenantID, id)
}

func (r *Customers) GetForUpdate(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	asTx(tx).lock("customer:" + id.String())
	return r.read(tx, tenantID, id)
}

func (r *Customers) UpdatePoints(_ context.Context, tx pgx.Tx, c *models.Customer) error {
	if err := asTx(tx).visible(c.TenantID); err != nil {
		return err
	}
	id, balance, earned := c.ID, c.PointsBalance, c.TotalPointsEarned
	if balance < 0 {
		return errors.New("memstore: points_balance check constraint violated")
	}
	updated := r.s.Now()
	c.UpdatedAt = updated
	asTx(tx).stage(func() {
		if cur, ok := r.s.customers[id]; ok {
			cur.PointsBalance = balance
			cur.TotalPointsEarned = earned
			cur.UpdatedAt = updated
		}
	})
	return nil
}

func (r *Customers) AddSpent(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID, amount int64) error {
	if err := asTx(tx).visible(tenantID); err != nil {
		return err
	}
	asTx(tx).lock("customer:" + id.String())
	asTx(tx).stage(func() {
		if cur, ok := r.s.customers[id]; ok && cur.TenantID == tenantID {
			cur.TotalSpent += amount
		}
	})
	return nil
}

func (r *Customers) SetTier(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID, tierID *uuid.UUID) (bool, error) {
	c, err := r.read(tx, tenantID, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if sameTier(c.TierID, tierID) {
		return false, nil
	}
	asTx(tx).stage(func() {
		if cur, ok := r.s.customers[id]; ok {
			cur.TierID = tierID
		}
	})
	return true, nil
}

func sameTier(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *Customers) ListActiveForTiers(_ context.Context, tx pgx.Tx, tenantID, after uuid.UUID, limit int) ([]repository.TierSnapshot, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []repository.TierSnapshot
	for _, c := range r.s.customers {
		if c.TenantID == tenantID && c.IsActive && lessID(after, c.ID) {
			list = append(list, repository.TierSnapshot{ID: c.ID, TotalPointsEarned: c.TotalPointsEarned, TierID: c.TierID})
		}
	}
	sort.Slice(list, func(i, j int) bool { return lessID(list[i].ID, list[j].ID) })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Ledger mirrors repository.LedgerRepo.
type Ledger struct{ s *Store }

func (s *Store) Ledger() *Ledger { return &Ledger{s} }

func (r *Ledger) Insert(_ context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	if err := asTx(tx).visible(e.TenantID); err != nil {
		return err
	}
	if err := r.s.fault("ledger.Insert"); err != nil {
		return err
	}
	if e.BalanceAfter < 0 {
		return errors.New("memstore: balance_after check constraint violated")
	}
	e.CreatedAt = r.s.Now()
	cp := *e
	asTx(tx).stage(func() { r.s.entries = append(r.s.entries, &cp) })
	return nil
}

func (r *Ledger) Get(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.LedgerEntry, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if e.ID == id && e.TenantID == tenantID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *Ledger) ListByCustomer(_ context.Context, tx pgx.Tx, tenantID, customerID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := []*models.LedgerEntry{}
	for i := len(r.s.entries) - 1; i >= 0 && len(list) < limit; i-- {
		e := r.s.entries[i]
		if e.TenantID == tenantID && e.CustomerID == customerID {
			cp := *e
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (r *Ledger) Sum(_ context.Context, tx pgx.Tx, tenantID, customerID uuid.UUID) (int, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := 0
	for _, e := range r.s.entries {
		if e.TenantID == tenantID && e.CustomerID == customerID {
			total += e.Amount
		}
	}
	return total, nil
}

func (r *Ledger) HasExpiry(_ context.Context, tx pgx.Tx, tenantID, earnID uuid.UUID) (bool, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.hasExpiryLocked(tenantID, earnID), nil
}

func (r *Ledger) hasExpiryLocked(tenantID, earnID uuid.UUID) bool {
	for _, e := range r.s.entries {
		if e.TenantID == tenantID && e.Type == models.LedgerEntryExpire && e.ReferenceID != nil && *e.ReferenceID == earnID {
			return true
		}
	}
	return false
}

func (r *Ledger) ListExpiredEarn(_ context.Context, tx pgx.Tx, tenantID uuid.UUID, now time.Time, after repository.ExpiryCursor, limit int) ([]*models.LedgerEntry, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.LedgerEntry
	for _, e := range r.s.entries {
		if e.TenantID != tenantID || e.Type != models.LedgerEntryEarn || e.ExpiresAt == nil || e.ExpiresAt.After(now) {
			continue
		}
		if !cursorBefore(after, *e.ExpiresAt, e.ID) || r.hasExpiryLocked(tenantID, e.ID) {
			continue
		}
		cp := *e
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ExpiresAt.Equal(*list[j].ExpiresAt) {
			return list[i].ExpiresAt.Before(*list[j].ExpiresAt)
		}
		return lessID(list[i].ID, list[j].ID)
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func cursorBefore(c repository.ExpiryCursor, at time.Time, id uuid.UUID) bool {
	if !c.ExpiresAt.Equal(at) {
		return c.ExpiresAt.Before(at)
	}
	return lessID(c.ID, id)
}

// Tiers mirrors repository.TierRepo.
type Tiers struct{ s *Store }

func (s *Store) Tiers() *Tiers { return &Tiers{s} }

func (r *Tiers) List(_ context.Context, tx pgx.Tx, tenantID uuid.UUID) ([]*models.Tier, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.Tier
	for _, t := range r.s.tiers {
		if t.TenantID == tenantID {
			cp := *t
			list = append(list, &cp)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].MinPoints > list[j].MinPoints })
	return list, nil
}

func (r *Tiers) Get(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Tier, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tiers {
		if t.ID == id && t.TenantID == tenantID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

// Programs mirrors repository.ProgramRepo.
type Programs struct{ s *Store }

func (s *Store) Programs() *Programs { return &Programs{s} }

func (r *Programs) Active(_ context.Context, tx pgx.Tx, tenantID uuid.UUID) (*models.Program, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.programs {
		if p.TenantID != tenantID || !p.IsActive {
			continue
		}
		cp := *p
		cp.Rules = nil
		for _, rule := range p.Rules {
			if rule.IsActive {
				cp.Rules = append(cp.Rules, rule)
			}
		}
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

// Transactions mirrors repository.TransactionRepo.
type Transactions struct{ s *Store }

func (s *Store) TransactionsRepo() *Transactions { return &Transactions{s} }

func (r *Transactions) Insert(_ context.Context, tx pgx.Tx, t *models.Transaction) error {
	if err := asTx(tx).visible(t.TenantID); err != nil {
		return err
	}
	t.CreatedAt = r.s.Now()
	cp := *t
	asTx(tx).stage(func() { r.s.transactions = append(r.s.transactions, &cp) })
	return nil
}

// Rewards mirrors repository.RewardRepo.
type Rewards struct{ s *Store }

func (s *Store) Rewards() *Rewards { return &Rewards{s} }

func (r *Rewards) GetForUpdate(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Reward, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	asTx(tx).lock("reward:" + id.String())
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rw, ok := r.s.rewards[id]
	if !ok || rw.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	cp := *rw
	return &cp, nil
}

func (r *Rewards) DecrementStock(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	if err := asTx(tx).visible(tenantID); err != nil {
		return err
	}
	r.s.mu.Lock()
	rw, ok := r.s.rewards[id]
	out := ok && rw.Stock != nil && *rw.Stock <= 0
	r.s.mu.Unlock()
	if !ok || out {
		return models.ErrOutOfStock
	}
	asTx(tx).stage(func() {
		if rw.Stock != nil {
			n := *rw.Stock - 1
			rw.Stock = &n
		}
	})
	return nil
}

func (r *Rewards) InsertRedemption(_ context.Context, tx pgx.Tx, red *models.Redemption) error {
	if err := asTx(tx).visible(red.TenantID); err != nil {
		return err
	}
	red.CreatedAt = r.s.Now()
	cp := *red
	asTx(tx).stage(func() { r.s.redemptions = append(r.s.redemptions, &cp) })
	return nil
}

// Stamps mirrors repository.StampRepo.
type Stamps struct{ s *Store }

func (s *Store) Stamps() *Stamps { return &Stamps{s} }

func (r *Stamps) GetDefinition(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.StampCardDefinition, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.definitions[id]
	if !ok || d.TenantID != tenantID {
		return nil, models.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *Stamps) OpenCardForUpdate(_ context.Context, tx pgx.Tx, tenantID, customerID, definitionID uuid.UUID) (*models.StampCard, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	asTx(tx).lock("stampcard:" + customerID.String() + ":" + definitionID.String())
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.cards {
		if c.TenantID == tenantID && c.CustomerID == customerID && c.DefinitionID == definitionID && !c.IsCompleted {
			cp := *c
			return &cp, nil
		}
	}
	now := r.s.Now()
	card := &models.StampCard{
		ID: uuid.New(), TenantID: tenantID, CustomerID: customerID, DefinitionID: definitionID,
		CreatedAt: now, UpdatedAt: now,
	}
	cp := *card
	asTx(tx).stage(func() { r.s.cards = append(r.s.cards, card) })
	return &cp, nil
}

func (r *Stamps) UpdateCard(_ context.Context, tx pgx.Tx, c *models.StampCard) error {
	if err := asTx(tx).visible(c.TenantID); err != nil {
		return err
	}
	c.UpdatedAt = r.s.Now()
	cp := *c
	asTx(tx).stage(func() {
		for _, cur := range r.s.cards {
			if cur.ID == cp.ID {
				*cur = cp
			}
		}
	})
	return nil
}

func (r *Stamps) InsertEvent(_ context.Context, tx pgx.Tx, ev *models.StampEvent) error {
	if err := asTx(tx).visible(ev.TenantID); err != nil {
		return err
	}
	ev.CreatedAt = r.s.Now()
	cp := *ev
	asTx(tx).stage(func() { r.s.stampEvents = append(r.s.stampEvents, &cp) })
	return nil
}

// Sync mirrors repository.SyncRepo.
type Sync struct{ s *Store }

func (s *Store) Sync() *Sync { return &Sync{s} }

func (r *Sync) Claim(_ context.Context, tx pgx.Tx, item *models.SyncQueueItem) (bool, error) {
	if err := asTx(tx).visible(item.TenantID); err != nil {
		return false, err
	}
	if err := r.s.fault("sync.Claim"); err != nil {
		return false, err
	}
	k := syncKey{item.TenantID, item.DeviceID, item.IdempotencyKey}
	asTx(tx).lock("sync:" + k.tenant.String() + ":" + k.device.String() + ":" + k.key)

	r.s.mu.Lock()
	existing, ok := r.s.syncItems[k]
	var stored models.SyncQueueItem
	if ok {
		stored = *existing
	}
	r.s.mu.Unlock()

	if ok {
		stored.RetryCount++
		*item = stored
		asTx(tx).stage(func() { existing.RetryCount++ })
		return false, nil
	}
	item.Status = models.SyncStatusPending
	item.CreatedAt = r.s.Now()
	cp := *item
	asTx(tx).stage(func() { r.s.syncItems[k] = &cp })
	return true, nil
}

func (r *Sync) Settle(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID, status string, result json.RawMessage, errMsg *string) error {
	if err := asTx(tx).visible(tenantID); err != nil {
		return err
	}
	now := r.s.Now()
	asTx(tx).stage(func() {
		for _, it := range r.s.syncItems {
			if it.ID == id && it.TenantID == tenantID {
				it.Status = status
				it.Result = result
				it.ErrorMessage = errMsg
				it.ProcessedAt = &now
			}
		}
	})
	return nil
}

// Webhooks mirrors repository.WebhookRepo.
type Webhooks struct{ s *Store }

func (s *Store) Webhooks() *Webhooks { return &Webhooks{s} }

func (r *Webhooks) ListSubscribers(_ context.Context, tx pgx.Tx, tenantID uuid.UUID, event string) ([]*models.WebhookEndpoint, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var list []*models.WebhookEndpoint
	for _, e := range r.s.endpoints {
		if e.TenantID == tenantID && e.IsActive && e.Subscribes(event) {
			cp := *e
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (r *Webhooks) InsertDelivery(_ context.Context, tx pgx.Tx, d *models.WebhookDelivery) error {
	if err := asTx(tx).visible(d.TenantID); err != nil {
		return err
	}
	d.CreatedAt = r.s.Now()
	cp := *d
	asTx(tx).stage(func() { r.s.deliveries = append(r.s.deliveries, &cp) })
	return nil
}

func (r *Webhooks) GetForDelivery(_ context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.WebhookDelivery, *models.WebhookEndpoint, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.deliveries {
		if d.ID != id || d.TenantID != tenantID {
			continue
		}
		for _, e := range r.s.endpoints {
			if e.ID == d.EndpointID {
				dc, ec := *d, *e
				return &dc, &ec, nil
			}
		}
	}
	return nil, nil, models.ErrNotFound
}

func (r *Webhooks) RecordAttempt(_ context.Context, tx pgx.Tx, d *models.WebhookDelivery) error {
	if err := asTx(tx).visible(d.TenantID); err != nil {
		return err
	}
	cp := *d
	asTx(tx).stage(func() {
		for _, cur := range r.s.deliveries {
			if cur.ID == cp.ID {
				cur.Status = cp.Status
				cur.Attempt = cp.Attempt
				cur.ResponseStatus = cp.ResponseStatus
				cur.ResponseBody = cp.ResponseBody
				cur.LastError = cp.LastError
				cur.NextAttemptAt = cp.NextAttemptAt
				cur.DeliveredAt = cp.DeliveredAt
			}
		}
	})
	return nil
}

func (r *Webhooks) ListStalePending(_ context.Context, tx pgx.Tx, tenantID uuid.UUID, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if err := asTx(tx).visible(tenantID); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []uuid.UUID
	for _, d := range r.s.deliveries {
		if d.TenantID != tenantID || d.Status != models.DeliveryStatusPending {
			continue
		}
		due := d.CreatedAt
		if d.NextAttemptAt != nil {
			due = *d.NextAttemptAt
		}
		if due.Before(cutoff) && len(ids) < limit {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// Tenants mirrors repository.TenantRepo.
type Tenants struct{ s *Store }

func (s *Store) Tenants() *Tenants { return &Tenants{s} }

func (r *Tenants) ListActiveIDs(context.Context) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]uuid.UUID(nil), r.s.tenants...), nil
}
