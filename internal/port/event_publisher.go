package port

import (
	"context"

	"github.com/munivet/doseledger/internal/core/domain"
)

type EventPublisher interface {
	PublishStockEvent(ctx context.Context, event domain.StockEvent) error
	Close() error
}
