package domain

import "time"

// ConsumptionRecord is one administered dose. Append-only: records are never
// mutated or deleted, they are the audit trail the conservation checks sum over.
type ConsumptionRecord struct {
	ID         string    `db:"id" json:"id"`
	ProductID  string    `db:"product_id" json:"product_id"`
	CampaignID string    `db:"campaign_id" json:"campaign_id,omitempty"`
	WorkerID   string    `db:"worker_id" json:"worker_id"`
	SubjectRef string    `db:"subject_ref" json:"subject_ref"`
	Quantity   int64     `db:"quantity" json:"quantity"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// ConsumptionFilter narrows history queries. Empty fields match everything.
type ConsumptionFilter struct {
	ProductID  string
	CampaignID string
	WorkerID   string
}
