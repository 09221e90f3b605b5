package memstore

import (
	"github.com/google/uuid"

	"github.com/loyalcore/backend/internal/models"
)

func (s *Store) AddTenant(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, id)
}

func (s *Store) AddCustomer(c models.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = &c
}

func (s *Store) AddTier(t models.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers = append(s.tiers, &t)
}

func (s *Store) AddProgram(p models.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs = append(s.programs, &p)
}

func (s *Store) AddReward(r models.Reward) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewards[r.ID] = &r
}

func (s *Store) AddDefinition(d models.StampCardDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[d.ID] = &d
}

func (s *Store) AddEndpoint(e models.WebhookEndpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, &e)
}

// AddEntry appends a raw ledger entry without touching the customer.
func (s *Store) AddEntry(e models.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &e)
}

func (s *Store) AddDelivery(d models.WebhookDelivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, &d)
}

func (s *Store) Customer(id uuid.UUID) models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.customers[id]
}

func (s *Store) Reward(id uuid.UUID) models.Reward {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rewards[id]
}

// Entries returns the customer's ledger in insertion order.
func (s *Store) Entries(customerID uuid.UUID) []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.CustomerID == customerID {
			out = append(out, *e)
		}
	}
	return out
}

func (s *Store) Cards(customerID uuid.UUID) []models.StampCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StampCard
	for _, c := range s.cards {
		if c.CustomerID == customerID {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Store) StampEvents() []models.StampEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StampEvent, 0, len(s.stampEvents))
	for _, e := range s.stampEvents {
		out = append(out, *e)
	}
	return out
}

func (s *Store) Redemptions() []models.Redemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Redemption, 0, len(s.redemptions))
	for _, r := range s.redemptions {
		out = append(out, *r)
	}
	return out
}

func (s *Store) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		out = append(out, *t)
	}
	return out
}

// SyncItem returns the stored dedup record, if any.
func (s *Store) SyncItem(tenantID, deviceID uuid.UUID, key string) (models.SyncQueueItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.syncItems[syncKey{tenantID, deviceID, key}]
	if !ok {
		return models.SyncQueueItem{}, false
	}
	return *it, true
}

func (s *Store) Deliveries() []models.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WebhookDelivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		out = append(out, *d)
	}
	return out
}
