package retry

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/daniel-vizcarra/IntegraHub/hubevent"
	"github.com/daniel-vizcarra/IntegraHub/kafka"
)

// Backoff returns the redelivery delay for the given attempt number:
// base doubled per prior attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt-1)
	if delay <= 0 || delay > max {
		delay = max
	}
	return delay
}

// Scheduler drains due envelopes from the pending-retry queue and
// republishes them to the primary orders topic.
type Scheduler struct {
	queue    IQueue
	producer kafka.IProducer
	logger   *zap.Logger
	interval time.Duration
}

func NewScheduler(queue IQueue, producer kafka.IProducer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		queue:    queue,
		producer: producer,
		logger:   logger,
		interval: interval,
	}
}

// Run polls until ctx is cancelled. A failed republish leaves the
// envelope to the next tick by rescheduling it immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			s.drainDue(ctx)
		}
	}
}

func (s *Scheduler) drainDue(ctx context.Context) {
	for {
		event, err := s.queue.PopDue(ctx)
		if err != nil {
			s.logger.Error("reading pending-retry queue failed", zap.Error(err))
			return
		}
		if event == nil {
			return
		}

		if err := s.republish(ctx, *event); err != nil {
			s.logger.Error("republish failed, rescheduling",
				zap.Int64("order_id", event.OrderID),
				zap.Error(err),
			)
			if err := s.queue.Schedule(ctx, *event, s.interval); err != nil {
				s.logger.Error("reschedule failed, envelope lost from retry queue",
					zap.Int64("order_id", event.OrderID),
					zap.Error(err),
				)
			}
			return
		}

		s.logger.Info("order redelivered",
			zap.Int64("order_id", event.OrderID),
			zap.Int("attempt_count", event.AttemptCount),
		)
	}
}

func (s *Scheduler) republish(ctx context.Context, event hubevent.OrderCreatedEvent) error {
	content, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.producer.Push([][]byte{content})
}
