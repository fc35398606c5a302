// Package fulfillment consumes order-created messages, validates them
// against inventory and drives each order through its status machine.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daniel-vizcarra/IntegraHub/hubevent"
	"github.com/daniel-vizcarra/IntegraHub/kafka"
	"github.com/daniel-vizcarra/IntegraHub/model"
	"github.com/daniel-vizcarra/IntegraHub/notify"
	"github.com/daniel-vizcarra/IntegraHub/retry"
	"github.com/daniel-vizcarra/IntegraHub/store"
)

type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	WorkerCount int
}

type IService interface {
	Consume(ctx context.Context, consumer kafka.IConsumer)
	ProcessDelivery(ctx context.Context, delivery kafka.Delivery)
}

func NewService(
	orders store.IOrderRepo,
	inventory store.IInventoryRepo,
	retryQueue retry.IQueue,
	dlqProducer kafka.IProducer,
	notifier notify.INotifier,
	policy Policy,
	logger *zap.Logger,
) IService {
	if policy.WorkerCount <= 0 {
		policy.WorkerCount = 1
	}
	return &service{
		orders:      orders,
		inventory:   inventory,
		retryQueue:  retryQueue,
		dlqProducer: dlqProducer,
		notifier:    notifier,
		policy:      policy,
		logger:      logger,
	}
}

type service struct {
	orders      store.IOrderRepo
	inventory   store.IInventoryRepo
	retryQueue  retry.IQueue
	dlqProducer kafka.IProducer
	notifier    notify.INotifier
	policy      Policy
	logger      *zap.Logger
	locks       orderLocks
}

// Consume runs the bounded worker pool over the consumer's deliveries
// until ctx is cancelled, then waits for in-flight messages to finish.
func (s *service) Consume(ctx context.Context, consumer kafka.IConsumer) {
	sem := make(chan struct{}, s.policy.WorkerCount)
	var wg sync.WaitGroup

	s.logger.Info("fulfillment consumer started", zap.Int("workers", s.policy.WorkerCount))
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("fulfillment consumer stopped")
			return
		case err := <-consumer.Errors():
			s.logger.Error("broker error", zap.Error(err))
		case delivery, ok := <-consumer.Messages():
			if !ok {
				wg.Wait()
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(d kafka.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				s.ProcessDelivery(ctx, d)
			}(delivery)
		}
	}
}

// ProcessDelivery runs the decision procedure for one message. It never
// panics on a malformed or failing message; the worst case is an unacked
// delivery that comes back later.
func (s *service) ProcessDelivery(ctx context.Context, delivery kafka.Delivery) {
	var event hubevent.OrderCreatedEvent
	if err := json.Unmarshal(delivery.Value, &event); err != nil {
		// A malformed envelope can never succeed on redelivery; the log
		// entry is its trace.
		s.logger.Error("discarding malformed envelope",
			zap.ByteString("payload", delivery.Value),
			zap.Error(err),
		)
		delivery.Ack()
		return
	}

	unlock := s.locks.lock(event.OrderID)
	defer unlock()
	s.processOrder(ctx, event, delivery.Ack)
}

func (s *service) processOrder(ctx context.Context, event hubevent.OrderCreatedEvent, ack func()) {
	logger := s.logger.With(
		zap.Int64("order_id", event.OrderID),
		zap.String("message_id", event.MessageID),
	)

	order, err := s.orders.GetOrder(ctx, event.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("order not found, discarding")
		ack()
		return
	}
	if err != nil {
		s.retryOrFail(ctx, event, fmt.Sprintf("order store unavailable: %v", err), ack, logger)
		return
	}

	// Redelivery of an already settled order is a no-op.
	if order.Status.Terminal() {
		logger.Info("order already settled, discarding redelivery", zap.String("status", string(order.Status)))
		ack()
		return
	}

	// Re-marking an order that is already PROCESSING is a crashed
	// attempt coming back; anything else must be a legal transition.
	if order.Status != model.OrderProcessing && !order.Status.CanTransition(model.OrderProcessing) {
		logger.Warn("order status cannot enter processing, discarding",
			zap.String("status", string(order.Status)))
		ack()
		return
	}

	// The envelope count is authoritative but the store may be ahead
	// after a crashed attempt; reconcile by taking the larger.
	if order.AttemptCount > event.AttemptCount {
		event.AttemptCount = order.AttemptCount
	}

	if err := s.orders.UpdateOrderStatus(ctx, order.ID, model.OrderProcessing, event.AttemptCount); err != nil {
		s.retryOrFail(ctx, event, fmt.Sprintf("marking order processing failed: %v", err), ack, logger)
		return
	}

	product, err := s.inventory.GetProduct(ctx, order.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		// A restock cannot create the product row, so waiting cannot
		// heal this; dead-letter on the first attempt.
		s.deadLetter(ctx, event, fmt.Sprintf("product %d not found", order.ProductID), ack, logger)
		return
	}
	if err != nil {
		s.retryOrFail(ctx, event, fmt.Sprintf("inventory store unavailable: %v", err), ack, logger)
		return
	}

	level, err := s.inventory.AdjustStock(ctx, order.ProductID, -order.Quantity)
	switch {
	case err == nil:
		s.fulfill(ctx, order, product, level, event, ack, logger)
	case errors.Is(err, store.ErrInsufficientStock):
		s.awaitRestock(ctx, order, product, event, ack, logger)
	default:
		s.retryOrFail(ctx, event, fmt.Sprintf("stock adjustment failed: %v", err), ack, logger)
	}
}

func (s *service) fulfill(
	ctx context.Context,
	order model.Order,
	product model.Product,
	level model.StockLevel,
	event hubevent.OrderCreatedEvent,
	ack func(),
	logger *zap.Logger,
) {
	if err := s.orders.UpdateOrderStatus(ctx, order.ID, model.OrderFulfilled, event.AttemptCount); err != nil {
		// Stock is already decremented; retrying would decrement again.
		// Ack and leave the status to operator reconciliation.
		logger.Error("stock decremented but marking order fulfilled failed", zap.Error(err))
	} else {
		logger.Info("order fulfilled",
			zap.Int("quantity", order.Quantity),
			zap.Int("stock_left", level.After),
		)
	}

	if level.CrossedBelow(product.ReorderThreshold) {
		s.notifier.Notify(ctx, model.Alert{
			Kind:        model.AlertLowStock,
			ReferenceID: product.ID,
			Message: fmt.Sprintf("product %q stock %d fell below reorder threshold %d",
				product.Name, level.After, product.ReorderThreshold),
		})
	}
	ack()
}

func (s *service) awaitRestock(
	ctx context.Context,
	order model.Order,
	product model.Product,
	event hubevent.OrderCreatedEvent,
	ack func(),
	logger *zap.Logger,
) {
	event.AttemptCount++
	if event.AttemptCount > s.policy.MaxAttempts {
		s.deadLetter(ctx, event,
			fmt.Sprintf("insufficient stock for product %d after %d attempts (requested %d, available %d)",
				product.ID, event.AttemptCount, order.Quantity, product.StockQuantity),
			ack, logger)
		return
	}

	if err := s.orders.UpdateOrderStatus(ctx, order.ID, model.OrderAwaitingRestock, event.AttemptCount); err != nil {
		logger.Error("marking order awaiting restock failed", zap.Error(err))
	}

	delay := retry.Backoff(event.AttemptCount, s.policy.BackoffBase, s.policy.BackoffMax)
	if err := s.retryQueue.Schedule(ctx, event, delay); err != nil {
		// Not acking keeps the message alive; the broker redelivers.
		logger.Error("scheduling retry failed, leaving message unacked", zap.Error(err))
		return
	}

	logger.Info("insufficient stock, order awaiting restock",
		zap.Int("requested", order.Quantity),
		zap.Int("available", product.StockQuantity),
		zap.Int("attempt_count", event.AttemptCount),
		zap.Duration("retry_in", delay),
	)
	ack()
}

// retryOrFail handles the transient-infrastructure path: same retry
// policy as insufficient stock, distinguished only in the logs and the
// terminal failure reason.
func (s *service) retryOrFail(ctx context.Context, event hubevent.OrderCreatedEvent, reason string, ack func(), logger *zap.Logger) {
	event.AttemptCount++
	if event.AttemptCount > s.policy.MaxAttempts {
		s.deadLetter(ctx, event, reason, ack, logger)
		return
	}

	delay := retry.Backoff(event.AttemptCount, s.policy.BackoffBase, s.policy.BackoffMax)
	if err := s.retryQueue.Schedule(ctx, event, delay); err != nil {
		logger.Error("scheduling retry failed, leaving message unacked", zap.Error(err))
		return
	}

	logger.Warn("transient failure, retry scheduled",
		zap.String("reason", reason),
		zap.Int("attempt_count", event.AttemptCount),
		zap.Duration("retry_in", delay),
	)
	ack()
}

// deadLetter performs the terminal action. The message is only acked
// once the dead-letter publish is confirmed, so a failed publish means
// the broker redelivers and the terminal action runs again.
func (s *service) deadLetter(ctx context.Context, event hubevent.OrderCreatedEvent, reason string, ack func(), logger *zap.Logger) {
	content, err := json.Marshal(hubevent.DeadLetterEvent{
		MessageID:     event.MessageID,
		OrderID:       event.OrderID,
		AttemptCount:  event.AttemptCount,
		FailureReason: reason,
		EnqueuedAt:    time.Now().UTC(),
	})
	if err != nil {
		logger.Error("marshal dead-letter event failed", zap.Error(err))
		return
	}

	if err := s.dlqProducer.Push([][]byte{content}); err != nil {
		logger.Error("dead-letter publish failed, leaving message unacked", zap.Error(err))
		return
	}

	if err := s.orders.UpdateOrderStatus(ctx, event.OrderID, model.OrderFailed, event.AttemptCount); err != nil {
		logger.Error("marking order failed errored", zap.Error(err))
	}

	s.notifier.Notify(ctx, model.Alert{
		Kind:        model.AlertOrderFailed,
		ReferenceID: event.OrderID,
		Message:     fmt.Sprintf("order %d dead-lettered after %d attempts: %s", event.OrderID, event.AttemptCount, reason),
	})

	logger.Error("order dead-lettered",
		zap.Int("attempt_count", event.AttemptCount),
		zap.String("reason", reason),
	)
	ack()
}
