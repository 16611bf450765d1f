package domain

import "time"

type CampaignState string

const (
	CampaignStatePlanned    CampaignState = "planned"
	CampaignStateInProgress CampaignState = "in_progress"
	CampaignStateFinished   CampaignState = "finished"
)

// Campaign is a planned field activity with stock allocated to workers.
// AllocatedTotal mirrors the sum of initial_quantity across the campaign's
// allocations and is recomputed whenever those change.
type Campaign struct {
	ID             string        `db:"id" json:"id"`
	Name           string        `db:"name" json:"name"`
	ProductID      string        `db:"product_id" json:"product_id"`
	State          CampaignState `db:"state" json:"state"`
	AllocatedTotal int64         `db:"allocated_total" json:"allocated_total"`
	StartsAt       *time.Time    `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt         *time.Time    `db:"ends_at" json:"ends_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}
