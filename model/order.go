package model

import "database/sql"

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderProcessing      OrderStatus = "PROCESSING"
	OrderFulfilled       OrderStatus = "FULFILLED"
	OrderAwaitingRestock OrderStatus = "AWAITING_RESTOCK"
	OrderFailed          OrderStatus = "FAILED"
)

// Terminal reports whether s admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderFulfilled || s == OrderFailed
}

// CanTransition reports whether moving from s to next follows the
// forward-only lifecycle PENDING -> PROCESSING -> {FULFILLED |
// AWAITING_RESTOCK -> PROCESSING | FAILED}. An order never returns to
// PENDING once dequeued.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case OrderPending:
		return next == OrderProcessing
	case OrderProcessing:
		return next == OrderFulfilled || next == OrderAwaitingRestock || next == OrderFailed
	case OrderAwaitingRestock:
		return next == OrderProcessing || next == OrderFailed
	default:
		return false
	}
}

type Order struct {
	ID           int64        `db:"id" json:"id"`
	CustomerName string       `db:"customer_name" json:"customer_name"`
	ProductID    int64        `db:"product_id" json:"product_id"`
	Quantity     int          `db:"quantity" json:"quantity"`
	Status       OrderStatus  `db:"status" json:"status"`
	AttemptCount int          `db:"attempt_count" json:"attempt_count"`
	CreatedAt    sql.NullTime `db:"created_at" json:"-"`
	UpdatedAt    sql.NullTime `db:"updated_at" json:"-"`
}
