package domain

import "time"

// WorkerAllocation is one (campaign, worker) ledger row. InitialQuantity is the
// amount handed to the worker, RemainingQuantity what the worker still holds.
// Invariant: 0 <= RemainingQuantity <= InitialQuantity.
type WorkerAllocation struct {
	CampaignID        string    `db:"campaign_id" json:"campaign_id"`
	WorkerID          string    `db:"worker_id" json:"worker_id"`
	InitialQuantity   int64     `db:"initial_quantity" json:"initial_quantity"`
	RemainingQuantity int64     `db:"remaining_quantity" json:"remaining_quantity"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Consumed is the amount the worker has already administered.
func (a WorkerAllocation) Consumed() int64 {
	return a.InitialQuantity - a.RemainingQuantity
}
