package domain

import "time"

// Product is a warehouse stock line, e.g. one vaccine or medicine.
// QuantityOnHand is mutated only through ledger transactions.
type Product struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	Unit             string    `db:"unit" json:"unit"`
	QuantityOnHand   int64     `db:"quantity_on_hand" json:"quantity_on_hand"`
	ReorderThreshold int64     `db:"reorder_threshold" json:"reorder_threshold"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// LowStock reports whether on-hand has fallen to the reorder threshold.
func (p Product) LowStock() bool {
	return p.ReorderThreshold > 0 && p.QuantityOnHand <= p.ReorderThreshold
}
