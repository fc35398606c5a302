package model

import "database/sql"

type Product struct {
	ID               int64        `db:"id" json:"id"`
	Name             string       `db:"name" json:"name"`
	StockQuantity    int          `db:"stock_quantity" json:"stock_quantity"`
	ReorderThreshold int          `db:"reorder_threshold" json:"reorder_threshold"`
	CreatedAt        sql.NullTime `db:"created_at" json:"-"`
	UpdatedAt        sql.NullTime `db:"updated_at" json:"-"`
}

// StockLevel is the before/after pair returned by a conditional stock
// adjustment, used to detect reorder-threshold crossings.
type StockLevel struct {
	Before int
	After  int
}

// CrossedBelow reports a downward crossing of the threshold.
func (l StockLevel) CrossedBelow(threshold int) bool {
	return l.Before >= threshold && l.After < threshold
}

// CrossedAbove reports that the adjustment cleared the threshold.
func (l StockLevel) CrossedAbove(threshold int) bool {
	return l.Before < threshold && l.After >= threshold
}
