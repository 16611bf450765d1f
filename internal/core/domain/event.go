package domain

import "time"

const (
	EventStockAllocated    = "stock.allocated"
	EventStockAdjusted     = "stock.adjusted"
	EventDoseConsumed      = "dose.consumed"
	EventCampaignFinalized = "campaign.finalized"
	EventStockRestocked    = "stock.restocked"
)

// StockEvent describes one committed stock movement. Events are emitted after
// commit, so a consumer replaying the topic sees only movements that happened.
type StockEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ProductID  string    `json:"product_id"`
	CampaignID string    `json:"campaign_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
	Quantity   int64     `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}
