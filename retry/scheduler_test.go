package retry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daniel-vizcarra/IntegraHub/hubevent"
)

func Test_Backoff(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	assert.Equal(t, 2*time.Second, Backoff(1, base, max))
	assert.Equal(t, 4*time.Second, Backoff(2, base, max))
	assert.Equal(t, 8*time.Second, Backoff(3, base, max))
	assert.Equal(t, base, Backoff(0, base, max), "attempt floor is 1")
	assert.Equal(t, max, Backoff(30, base, max), "delay is capped")
	assert.Equal(t, max, Backoff(200, base, max), "shift overflow falls back to the cap")
}

type memQueue struct {
	mu    sync.Mutex
	due   []hubevent.OrderCreatedEvent
	later []hubevent.OrderCreatedEvent
	err   error
}

func (q *memQueue) Schedule(_ context.Context, event hubevent.OrderCreatedEvent, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.later = append(q.later, event)
	return nil
}

func (q *memQueue) PopDue(context.Context) (*hubevent.OrderCreatedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if len(q.due) == 0 {
		return nil, nil
	}
	event := q.due[0]
	q.due = q.due[1:]
	return &event, nil
}

type memProducer struct {
	mu     sync.Mutex
	pushed [][]byte
	err    error
}

func (p *memProducer) Push(messages [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pushed = append(p.pushed, messages...)
	return nil
}

func (p *memProducer) pushedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushed)
}

func Test_Scheduler_RepublishesDueEnvelopes(t *testing.T) {
	event := hubevent.NewOrderCreated(7)
	event.AttemptCount = 3

	queue := &memQueue{due: []hubevent.OrderCreatedEvent{event}}
	producer := &memProducer{}
	scheduler := NewScheduler(queue, producer, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return producer.pushedCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	var republished hubevent.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(producer.pushed[0], &republished))
	assert.Equal(t, int64(7), republished.OrderID)
	assert.Equal(t, 3, republished.AttemptCount, "attempt count carried forward on republish")
}

func Test_Scheduler_FailedRepublishIsRescheduled(t *testing.T) {
	event := hubevent.NewOrderCreated(9)
	queue := &memQueue{due: []hubevent.OrderCreatedEvent{event}}
	producer := &memProducer{err: errors.New("broker down")}
	scheduler := NewScheduler(queue, producer, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	scheduler.Run(ctx)

	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.NotEmpty(t, queue.later, "envelope must survive a failed republish")
	assert.Equal(t, int64(9), queue.later[0].OrderID)
}
