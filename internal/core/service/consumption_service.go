package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/munivet/doseledger/internal/core/domain"
	"github.com/munivet/doseledger/internal/port"
)

const idempotencyKeyPrefix = "consume:"

// ConsumeInput describes one administered dose. CampaignID set: the dose comes
// out of the worker's allocation for that campaign. CampaignID empty: the dose
// is taken directly from the warehouse and ProductID is required.
type ConsumeInput struct {
	RequestID  string `json:"request_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	WorkerID   string `json:"worker_id"`
	SubjectRef string `json:"subject_ref"`
	Quantity   int64  `json:"quantity"`
}

type ConsumeResult struct {
	RecordID  string `json:"record_id"`
	ProductID string `json:"product_id"`
	// Remaining is the worker's remaining allocation after the consumption,
	// or the warehouse on-hand quantity for direct consumption.
	Remaining int64 `json:"remaining_quantity"`
}

// ConsumptionService is the hot path: check-then-decrement against an
// exclusively locked row, plus an append-only consumption record, in one
// transaction. Campaign-scoped and direct warehouse consumption share the
// same operation so the locking logic exists once.
type ConsumptionService struct {
	store  port.LedgerStore
	cache  port.CacheRepository
	events *EventQueue
}

func NewConsumptionService(store port.LedgerStore, cache port.CacheRepository, events *EventQueue) *ConsumptionService {
	return &ConsumptionService{store: store, cache: cache, events: events}
}

func (s *ConsumptionService) Consume(ctx context.Context, in ConsumeInput) (*ConsumeResult, error) {
	if in.WorkerID == "" || in.SubjectRef == "" {
		return nil, fmt.Errorf("worker_id and subject_ref are required: %w", domain.ErrValidation)
	}
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", domain.ErrValidation)
	}
	if in.CampaignID == "" && in.ProductID == "" {
		return nil, fmt.Errorf("campaign_id or product_id is required: %w", domain.ErrValidation)
	}

	idempotencyKey := ""
	if in.RequestID != "" && s.cache != nil {
		idempotencyKey = idempotencyKeyPrefix + in.RequestID
		ok, err := s.cache.SetIdempotency(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("request %s: %w", in.RequestID, domain.ErrDuplicateRequest)
		}
	}

	result, mirror, err := s.consume(ctx, in)
	if err != nil {
		// Free the key so the caller may retry after a rollback.
		if idempotencyKey != "" {
			if relErr := s.cache.ReleaseIdempotency(ctx, idempotencyKey); relErr != nil {
				log.Printf("failed to release idempotency key %s: %v", idempotencyKey, relErr)
			}
		}
		return nil, err
	}

	if mirror {
		s.mirrorStock(ctx, result.ProductID, result.Remaining)
	}
	s.emit(domain.StockEvent{
		ID:         uuid.NewString(),
		Type:       domain.EventDoseConsumed,
		ProductID:  result.ProductID,
		CampaignID: in.CampaignID,
		WorkerID:   in.WorkerID,
		Quantity:   in.Quantity,
		OccurredAt: time.Now().UTC(),
	})
	return result, nil
}

func (s *ConsumptionService) consume(ctx context.Context, in ConsumeInput) (*ConsumeResult, bool, error) {
	now := time.Now().UTC()
	record := &domain.ConsumptionRecord{
		ID:         uuid.NewString(),
		CampaignID: in.CampaignID,
		WorkerID:   in.WorkerID,
		SubjectRef: in.SubjectRef,
		Quantity:   in.Quantity,
		RecordedAt: now,
	}

	var (
		remaining     int64
		fromWarehouse bool
	)
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		if in.CampaignID != "" {
			campaign, err := tx.CampaignForUpdate(ctx, in.CampaignID)
			if err != nil {
				return err
			}
			if campaign == nil {
				return fmt.Errorf("campaign %s: %w", in.CampaignID, domain.ErrNotFound)
			}
			if campaign.State != domain.CampaignStateInProgress {
				return fmt.Errorf("campaign %s is %s: %w", in.CampaignID, campaign.State, domain.ErrInvalidState)
			}

			alloc, err := tx.AllocationForUpdate(ctx, in.CampaignID, in.WorkerID)
			if err != nil {
				return err
			}
			if alloc == nil {
				return fmt.Errorf("worker %s has no allocation for campaign %s: %w",
					in.WorkerID, in.CampaignID, domain.ErrNotFound)
			}
			if alloc.RemainingQuantity < in.Quantity {
				return fmt.Errorf("worker %s holds %d, need %d: %w",
					in.WorkerID, alloc.RemainingQuantity, in.Quantity, domain.ErrInsufficientStock)
			}
			if err := tx.AdjustAllocation(ctx, in.CampaignID, in.WorkerID, 0, -in.Quantity); err != nil {
				return err
			}
			record.ProductID = campaign.ProductID
			remaining = alloc.RemainingQuantity - in.Quantity
		} else {
			product, err := tx.ProductForUpdate(ctx, in.ProductID)
			if err != nil {
				return err
			}
			if product == nil {
				return fmt.Errorf("product %s: %w", in.ProductID, domain.ErrNotFound)
			}
			if product.QuantityOnHand < in.Quantity {
				return fmt.Errorf("product %s has %d, need %d: %w",
					in.ProductID, product.QuantityOnHand, in.Quantity, domain.ErrInsufficientStock)
			}
			if err := tx.AdjustProductStock(ctx, in.ProductID, -in.Quantity); err != nil {
				return err
			}
			record.ProductID = in.ProductID
			remaining = product.QuantityOnHand - in.Quantity
			fromWarehouse = true
		}
		return tx.InsertConsumption(ctx, record)
	})
	if err != nil {
		return nil, false, err
	}

	return &ConsumeResult{
		RecordID:  record.ID,
		ProductID: record.ProductID,
		Remaining: remaining,
	}, fromWarehouse, nil
}

func (s *ConsumptionService) mirrorStock(ctx context.Context, productID string, quantity int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStock(ctx, productID, quantity); err != nil {
		log.Printf("failed to mirror stock for %s: %v", productID, err)
	}
}

func (s *ConsumptionService) emit(event domain.StockEvent) {
	if s.events != nil {
		s.events.Publish(event)
	}
}
