package hubevent

import (
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent travels on the primary orders topic and on every
// retry republish. AttemptCount on the envelope is authoritative for the
// retry bound; it is carried forward on each republish rather than read
// back from the order record.
type OrderCreatedEvent struct {
	MessageID    string    `json:"message_id"`
	OrderID      int64     `json:"order_id"`
	AttemptCount int       `json:"attempt_count"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

func NewOrderCreated(orderID int64) OrderCreatedEvent {
	return OrderCreatedEvent{
		MessageID:  uuid.NewString(),
		OrderID:    orderID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// DeadLetterEvent is published to the dead-letter topic when an order is
// terminally failed. It has no automated consumer; operators inspect it.
type DeadLetterEvent struct {
	MessageID     string    `json:"message_id"`
	OrderID       int64     `json:"order_id"`
	AttemptCount  int       `json:"attempt_count"`
	FailureReason string    `json:"failure_reason"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}
