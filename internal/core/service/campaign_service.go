package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/munivet/doseledger/internal/core/domain"
	"github.com/munivet/doseledger/internal/port"
)

// AllocationInput is one (worker, quantity) pair of an allocation request.
type AllocationInput struct {
	WorkerID string `json:"worker_id"`
	Quantity int64  `json:"quantity"`
}

type CreateCampaignInput struct {
	Name        string            `json:"name"`
	ProductID   string            `json:"product_id"`
	StartsAt    *time.Time        `json:"starts_at,omitempty"`
	EndsAt      *time.Time        `json:"ends_at,omitempty"`
	Allocations []AllocationInput `json:"allocations"`
}

// CampaignService is the allocation manager, lifecycle gate and return engine.
// Every mutating operation is one all-or-nothing transaction over rows locked
// in a fixed order: campaign, product, allocations sorted by worker id.
type CampaignService struct {
	store  port.LedgerStore
	cache  port.CacheRepository
	events *EventQueue
}

func NewCampaignService(store port.LedgerStore, cache port.CacheRepository, events *EventQueue) *CampaignService {
	return &CampaignService{store: store, cache: cache, events: events}
}

// Create allocates stock from the warehouse to a set of workers and records
// the campaign. Nothing is visible unless every step succeeds.
func (s *CampaignService) Create(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
	if in.Name == "" || in.ProductID == "" {
		return nil, fmt.Errorf("name and product_id are required: %w", domain.ErrValidation)
	}
	pairs, err := normalizePairs(in.Allocations, false)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, p := range pairs {
		total += p.Quantity
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:             uuid.NewString(),
		Name:           in.Name,
		ProductID:      in.ProductID,
		State:          domain.CampaignStatePlanned,
		AllocatedTotal: total,
		StartsAt:       in.StartsAt,
		EndsAt:         in.EndsAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var onHand int64
	err = s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		product, err := tx.ProductForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("product %s: %w", in.ProductID, domain.ErrNotFound)
		}
		if product.QuantityOnHand < total {
			return fmt.Errorf("product %s has %d, need %d: %w",
				in.ProductID, product.QuantityOnHand, total, domain.ErrInsufficientStock)
		}
		if total > 0 {
			if err := tx.AdjustProductStock(ctx, in.ProductID, -total); err != nil {
				return err
			}
		}
		if err := tx.InsertCampaign(ctx, campaign); err != nil {
			return err
		}
		for _, p := range pairs {
			alloc := &domain.WorkerAllocation{
				CampaignID:        campaign.ID,
				WorkerID:          p.WorkerID,
				InitialQuantity:   p.Quantity,
				RemainingQuantity: p.Quantity,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := tx.InsertAllocation(ctx, alloc); err != nil {
				return err
			}
		}
		onHand = product.QuantityOnHand - total
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorStock(ctx, in.ProductID, onHand)
	s.emit(domain.StockEvent{
		ID:         uuid.NewString(),
		Type:       domain.EventStockAllocated,
		ProductID:  in.ProductID,
		CampaignID: campaign.ID,
		Quantity:   total,
		OccurredAt: now,
	})
	return campaign, nil
}

// Start moves a campaign from planned to in_progress; consumption is only
// accepted while in_progress.
func (s *CampaignService) Start(ctx context.Context, campaignID string) error {
	if campaignID == "" {
		return fmt.Errorf("campaign id is required: %w", domain.ErrValidation)
	}
	return s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		campaign, err := tx.CampaignForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign == nil {
			return fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
		}
		if campaign.State != domain.CampaignStatePlanned {
			return fmt.Errorf("campaign %s is %s: %w", campaignID, campaign.State, domain.ErrInvalidState)
		}
		return tx.SetCampaignState(ctx, campaignID, domain.CampaignStateInProgress)
	})
}

// Reallocate applies a new set of (worker, quantity) targets as deltas against
// a single consistent snapshot. All affected rows are locked up front, every
// delta is validated before any write, and the whole batch commits or rolls
// back as one.
func (s *CampaignService) Reallocate(ctx context.Context, campaignID, productID string, requested []AllocationInput) (int64, error) {
	if campaignID == "" || productID == "" {
		return 0, fmt.Errorf("campaign id and product_id are required: %w", domain.ErrValidation)
	}
	pairs, err := normalizePairs(requested, true)
	if err != nil {
		return 0, err
	}

	type plannedChange struct {
		workerID string
		quantity int64
		delta    int64
		isNew    bool
	}

	var (
		newTotal int64
		onHand   int64
		netDelta int64
	)
	err = s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		campaign, err := tx.CampaignForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign == nil {
			return fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
		}
		if campaign.State == domain.CampaignStateFinished {
			return fmt.Errorf("campaign %s is finished: %w", campaignID, domain.ErrInvalidState)
		}
		if campaign.ProductID != productID {
			return fmt.Errorf("product %s does not match campaign product %s: %w",
				productID, campaign.ProductID, domain.ErrValidation)
		}

		product, err := tx.ProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
		}

		current, err := tx.AllocationsForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		snapshot := make(map[string]domain.WorkerAllocation, len(current))
		var totalInitial int64
		for _, a := range current {
			snapshot[a.WorkerID] = a
			totalInitial += a.InitialQuantity
		}

		// Compute every delta against the snapshot before touching anything.
		available := product.QuantityOnHand
		changes := make([]plannedChange, 0, len(pairs))
		for _, p := range pairs {
			existing, ok := snapshot[p.WorkerID]
			delta := p.Quantity
			if ok {
				delta = p.Quantity - existing.InitialQuantity
			}
			switch {
			case delta > 0:
				if available < delta {
					return fmt.Errorf("product %s has %d, need %d more for worker %s: %w",
						productID, available, delta, p.WorkerID, domain.ErrInsufficientStock)
				}
				available -= delta
			case delta < 0:
				if existing.RemainingQuantity+delta < 0 {
					return fmt.Errorf("worker %s already consumed %d, cannot reduce to %d: %w",
						p.WorkerID, existing.Consumed(), p.Quantity, domain.ErrInsufficientStock)
				}
				available += -delta
			}
			changes = append(changes, plannedChange{
				workerID: p.WorkerID,
				quantity: p.Quantity,
				delta:    delta,
				isNew:    !ok,
			})
		}

		now := time.Now().UTC()
		for _, ch := range changes {
			if ch.isNew {
				alloc := &domain.WorkerAllocation{
					CampaignID:        campaignID,
					WorkerID:          ch.workerID,
					InitialQuantity:   ch.quantity,
					RemainingQuantity: ch.quantity,
					CreatedAt:         now,
					UpdatedAt:         now,
				}
				if err := tx.InsertAllocation(ctx, alloc); err != nil {
					return err
				}
			} else if ch.delta != 0 {
				if err := tx.AdjustAllocation(ctx, campaignID, ch.workerID, ch.delta, ch.delta); err != nil {
					return err
				}
			}
			netDelta += ch.delta
		}
		if netDelta != 0 {
			if err := tx.AdjustProductStock(ctx, productID, -netDelta); err != nil {
				return err
			}
		}

		newTotal = totalInitial + netDelta
		if err := tx.SetAllocatedTotal(ctx, campaignID, newTotal); err != nil {
			return err
		}
		onHand = available
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.mirrorStock(ctx, productID, onHand)
	s.emit(domain.StockEvent{
		ID:         uuid.NewString(),
		Type:       domain.EventStockAdjusted,
		ProductID:  productID,
		CampaignID: campaignID,
		Quantity:   netDelta,
		OccurredAt: time.Now().UTC(),
	})
	return newTotal, nil
}

// Finalize closes the campaign: unconsumed allocation returns to the warehouse
// exactly once, the ledger rows are zeroed (history preserved), and the state
// becomes finished. A second call fails with ErrInvalidState.
func (s *CampaignService) Finalize(ctx context.Context, campaignID string) (int64, error) {
	if campaignID == "" {
		return 0, fmt.Errorf("campaign id is required: %w", domain.ErrValidation)
	}
	var (
		returned  int64
		productID string
		onHand    int64
	)
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		campaign, err := tx.CampaignForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign == nil {
			return fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
		}
		if campaign.State == domain.CampaignStateFinished {
			return fmt.Errorf("campaign %s already finished: %w", campaignID, domain.ErrInvalidState)
		}
		productID = campaign.ProductID

		product, err := tx.ProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
		}

		allocs, err := tx.AllocationsForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		for _, a := range allocs {
			returned += a.RemainingQuantity
		}

		if returned > 0 {
			if err := tx.AdjustProductStock(ctx, productID, returned); err != nil {
				return err
			}
		}
		if err := tx.ZeroRemaining(ctx, campaignID); err != nil {
			return err
		}
		if err := tx.SetCampaignState(ctx, campaignID, domain.CampaignStateFinished); err != nil {
			return err
		}
		if err := tx.SetAllocatedTotal(ctx, campaignID, 0); err != nil {
			return err
		}
		onHand = product.QuantityOnHand + returned
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.mirrorStock(ctx, productID, onHand)
	s.emit(domain.StockEvent{
		ID:         uuid.NewString(),
		Type:       domain.EventCampaignFinalized,
		ProductID:  productID,
		CampaignID: campaignID,
		Quantity:   returned,
		OccurredAt: time.Now().UTC(),
	})
	return returned, nil
}

func (s *CampaignService) Get(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
	}
	return campaign, nil
}

func (s *CampaignService) mirrorStock(ctx context.Context, productID string, quantity int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStock(ctx, productID, quantity); err != nil {
		log.Printf("failed to mirror stock for %s: %v", productID, err)
	}
}

func (s *CampaignService) emit(event domain.StockEvent) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

// normalizePairs validates the pairs and returns them sorted by worker id, so
// every caller locks allocation rows in the same order. allowZero permits a
// reallocation target of zero; fresh allocations must be positive.
func normalizePairs(pairs []AllocationInput, allowZero bool) ([]AllocationInput, error) {
	seen := make(map[string]bool, len(pairs))
	out := make([]AllocationInput, 0, len(pairs))
	for _, p := range pairs {
		if p.WorkerID == "" {
			return nil, fmt.Errorf("worker_id is required: %w", domain.ErrValidation)
		}
		if p.Quantity < 0 || (!allowZero && p.Quantity == 0) {
			return nil, fmt.Errorf("worker %s: quantity must be positive: %w", p.WorkerID, domain.ErrValidation)
		}
		if seen[p.WorkerID] {
			return nil, fmt.Errorf("worker %s listed twice: %w", p.WorkerID, domain.ErrValidation)
		}
		seen[p.WorkerID] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}
