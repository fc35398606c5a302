package model

type AlertKind string

const (
	AlertLowStock    AlertKind = "LOW_STOCK"
	AlertOrderFailed AlertKind = "ORDER_FAILED"
)

// Alert is the payload handed to the notification dispatcher. ReferenceID
// is a product id for LOW_STOCK and an order id for ORDER_FAILED.
type Alert struct {
	Kind        AlertKind `json:"kind"`
	ReferenceID int64     `json:"reference_id"`
	Message     string    `json:"message"`
}
