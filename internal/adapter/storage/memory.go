package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/munivet/doseledger/internal/core/domain"
	"github.com/munivet/doseledger/internal/port"
)

// MemoryStore is an in-memory LedgerStore for tests and local development.
// Transactions are serialized under one mutex and run against a copy of the
// state, so a failed transaction leaves nothing behind, same as a rollback.
type MemoryStore struct {
	mu           sync.Mutex
	products     map[string]domain.Product
	campaigns    map[string]domain.Campaign
	allocations  map[string]domain.WorkerAllocation // campaignID + "\x00" + workerID
	consumptions []domain.ConsumptionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:    make(map[string]domain.Product),
		campaigns:   make(map[string]domain.Campaign),
		allocations: make(map[string]domain.WorkerAllocation),
	}
}

// SeedProduct installs a product row, replacing any existing one.
func (s *MemoryStore) SeedProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func allocKey(campaignID, workerID string) string {
	return campaignID + "\x00" + workerID
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		products:     make(map[string]domain.Product, len(s.products)),
		campaigns:    make(map[string]domain.Campaign, len(s.campaigns)),
		allocations:  make(map[string]domain.WorkerAllocation, len(s.allocations)),
		consumptions: append([]domain.ConsumptionRecord(nil), s.consumptions...),
	}
	for k, v := range s.products {
		tx.products[k] = v
	}
	for k, v := range s.campaigns {
		tx.campaigns[k] = v
	}
	for k, v := range s.allocations {
		tx.allocations[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.products = tx.products
	s.campaigns = tx.campaigns
	s.allocations = tx.allocations
	s.consumptions = tx.consumptions
	return nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *MemoryStore) ListAllocations(ctx context.Context, campaignID string) ([]domain.WorkerAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WorkerAllocation
	for _, a := range s.allocations {
		if a.CampaignID == campaignID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (s *MemoryStore) ListConsumptions(ctx context.Context, filter domain.ConsumptionFilter) ([]domain.ConsumptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ConsumptionRecord
	for _, rec := range s.consumptions {
		if filter.ProductID != "" && rec.ProductID != filter.ProductID {
			continue
		}
		if filter.CampaignID != "" && rec.CampaignID != filter.CampaignID {
			continue
		}
		if filter.WorkerID != "" && rec.WorkerID != filter.WorkerID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

type memoryTx struct {
	products     map[string]domain.Product
	campaigns    map[string]domain.Campaign
	allocations  map[string]domain.WorkerAllocation
	consumptions []domain.ConsumptionRecord
}

func (t *memoryTx) ProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	if p, ok := t.products[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *memoryTx) AdjustProductStock(ctx context.Context, id string, delta int64) error {
	p, ok := t.products[id]
	if !ok || p.QuantityOnHand+delta < 0 {
		return fmt.Errorf("product %s: %w", id, domain.ErrInsufficientStock)
	}
	p.QuantityOnHand += delta
	t.products[id] = p
	return nil
}

func (t *memoryTx) InsertCampaign(ctx context.Context, c *domain.Campaign) error {
	if _, ok := t.campaigns[c.ID]; ok {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	t.campaigns[c.ID] = *c
	return nil
}

func (t *memoryTx) CampaignForUpdate(ctx context.Context, id string) (*domain.Campaign, error) {
	if c, ok := t.campaigns[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (t *memoryTx) SetCampaignState(ctx context.Context, id string, state domain.CampaignState) error {
	c, ok := t.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	c.State = state
	t.campaigns[id] = c
	return nil
}

func (t *memoryTx) SetAllocatedTotal(ctx context.Context, id string, total int64) error {
	c, ok := t.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	c.AllocatedTotal = total
	t.campaigns[id] = c
	return nil
}

func (t *memoryTx) InsertAllocation(ctx context.Context, a *domain.WorkerAllocation) error {
	key := allocKey(a.CampaignID, a.WorkerID)
	if _, ok := t.allocations[key]; ok {
		return fmt.Errorf("allocation %s/%s already exists", a.CampaignID, a.WorkerID)
	}
	t.allocations[key] = *a
	return nil
}

func (t *memoryTx) AllocationForUpdate(ctx context.Context, campaignID, workerID string) (*domain.WorkerAllocation, error) {
	if a, ok := t.allocations[allocKey(campaignID, workerID)]; ok {
		return &a, nil
	}
	return nil, nil
}

func (t *memoryTx) AllocationsForUpdate(ctx context.Context, campaignID string) ([]domain.WorkerAllocation, error) {
	var out []domain.WorkerAllocation
	for _, a := range t.allocations {
		if a.CampaignID == campaignID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (t *memoryTx) AdjustAllocation(ctx context.Context, campaignID, workerID string, initialDelta, remainingDelta int64) error {
	key := allocKey(campaignID, workerID)
	a, ok := t.allocations[key]
	if !ok || a.InitialQuantity+initialDelta < 0 || a.RemainingQuantity+remainingDelta < 0 {
		return fmt.Errorf("allocation %s/%s: %w", campaignID, workerID, domain.ErrInsufficientStock)
	}
	a.InitialQuantity += initialDelta
	a.RemainingQuantity += remainingDelta
	t.allocations[key] = a
	return nil
}

func (t *memoryTx) ZeroRemaining(ctx context.Context, campaignID string) error {
	for key, a := range t.allocations {
		if a.CampaignID == campaignID {
			a.RemainingQuantity = 0
			t.allocations[key] = a
		}
	}
	return nil
}

func (t *memoryTx) InsertConsumption(ctx context.Context, rec *domain.ConsumptionRecord) error {
	t.consumptions = append(t.consumptions, *rec)
	return nil
}
