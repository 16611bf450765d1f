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

// StockView is the read shape for a product's stock level. FromCache reads
// come from the Redis mirror; LowStock is only evaluated on authoritative
// reads, where the reorder threshold is at hand.
type StockView struct {
	ProductID      string `json:"product_id"`
	QuantityOnHand int64  `json:"quantity_on_hand"`
	LowStock       bool   `json:"low_stock,omitempty"`
	FromCache      bool   `json:"from_cache,omitempty"`
}

// WarehouseService covers the few direct warehouse operations the ledger
// exposes: administrative restock and stock reads.
type WarehouseService struct {
	store  port.LedgerStore
	cache  port.CacheRepository
	events *EventQueue
}

func NewWarehouseService(store port.LedgerStore, cache port.CacheRepository, events *EventQueue) *WarehouseService {
	return &WarehouseService{store: store, cache: cache, events: events}
}

// AddStock credits the warehouse. This is the only way quantity enters the
// system; everything downstream only moves it around.
func (s *WarehouseService) AddStock(ctx context.Context, productID string, quantity int64) (int64, error) {
	if productID == "" {
		return 0, fmt.Errorf("product id is required: %w", domain.ErrValidation)
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity must be positive: %w", domain.ErrValidation)
	}

	var onHand int64
	err := s.store.WithinTx(ctx, func(tx port.LedgerTx) error {
		product, err := tx.ProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
		}
		if err := tx.AdjustProductStock(ctx, productID, quantity); err != nil {
			return err
		}
		onHand = product.QuantityOnHand + quantity
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.SetStock(ctx, productID, onHand); err != nil {
			log.Printf("failed to mirror stock for %s: %v", productID, err)
		}
	}
	if s.events != nil {
		s.events.Publish(domain.StockEvent{
			ID:         uuid.NewString(),
			Type:       domain.EventStockRestocked,
			ProductID:  productID,
			Quantity:   quantity,
			OccurredAt: time.Now().UTC(),
		})
	}
	return onHand, nil
}

// Stock serves the mirrored level when available and falls back to the store,
// re-priming the mirror on the way out.
func (s *WarehouseService) Stock(ctx context.Context, productID string) (*StockView, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id is required: %w", domain.ErrValidation)
	}

	if s.cache != nil {
		quantity, ok, err := s.cache.GetStock(ctx, productID)
		if err != nil {
			log.Printf("stock cache read failed for %s: %v", productID, err)
		} else if ok {
			return &StockView{ProductID: productID, QuantityOnHand: quantity, FromCache: true}, nil
		}
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	if s.cache != nil {
		if err := s.cache.SetStock(ctx, productID, product.QuantityOnHand); err != nil {
			log.Printf("failed to mirror stock for %s: %v", productID, err)
		}
	}
	return &StockView{
		ProductID:      productID,
		QuantityOnHand: product.QuantityOnHand,
		LowStock:       product.LowStock(),
	}, nil
}
