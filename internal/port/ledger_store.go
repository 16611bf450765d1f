package port

import (
	"context"

	"github.com/munivet/doseledger/internal/core/domain"
)

// LedgerStore is the authoritative store for products, campaigns, allocations
// and consumption records. Reads outside WithinTx take no locks.
type LedgerStore interface {
	// WithinTx runs fn inside one all-or-nothing transaction. Any error from
	// fn rolls the whole transaction back and is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListAllocations(ctx context.Context, campaignID string) ([]domain.WorkerAllocation, error)
	ListConsumptions(ctx context.Context, filter domain.ConsumptionFilter) ([]domain.ConsumptionRecord, error)
}

// LedgerTx exposes the row-level primitives available inside a transaction.
// ForUpdate reads take exclusive row locks held until commit or rollback; the
// lookups return nil (not an error) when the row does not exist.
type LedgerTx interface {
	ProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	// AdjustProductStock moves quantity_on_hand by delta. The update is
	// guarded: a negative delta that would drive the quantity below zero
	// returns domain.ErrInsufficientStock.
	AdjustProductStock(ctx context.Context, id string, delta int64) error

	InsertCampaign(ctx context.Context, c *domain.Campaign) error
	CampaignForUpdate(ctx context.Context, id string) (*domain.Campaign, error)
	SetCampaignState(ctx context.Context, id string, state domain.CampaignState) error
	SetAllocatedTotal(ctx context.Context, id string, total int64) error

	InsertAllocation(ctx context.Context, a *domain.WorkerAllocation) error
	AllocationForUpdate(ctx context.Context, campaignID, workerID string) (*domain.WorkerAllocation, error)
	// AllocationsForUpdate locks every allocation row of the campaign in one
	// statement, ordered by worker id so concurrent reallocations acquire
	// locks in the same order.
	AllocationsForUpdate(ctx context.Context, campaignID string) ([]domain.WorkerAllocation, error)
	// AdjustAllocation moves initial_quantity and remaining_quantity by the
	// given deltas, guarded so neither field goes negative
	// (domain.ErrInsufficientStock on violation).
	AdjustAllocation(ctx context.Context, campaignID, workerID string, initialDelta, remainingDelta int64) error
	ZeroRemaining(ctx context.Context, campaignID string) error

	InsertConsumption(ctx context.Context, rec *domain.ConsumptionRecord) error
}
