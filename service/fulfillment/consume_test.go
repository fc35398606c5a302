package fulfillment

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniel-vizcarra/IntegraHub/hubevent"
	"github.com/daniel-vizcarra/IntegraHub/kafka"
	"github.com/daniel-vizcarra/IntegraHub/model"
)

type chanConsumer struct {
	messages chan kafka.Delivery
	errors   chan error
}

func newChanConsumer(buffer int) *chanConsumer {
	return &chanConsumer{
		messages: make(chan kafka.Delivery, buffer),
		errors:   make(chan error, 1),
	}
}

func (c *chanConsumer) Messages() <-chan kafka.Delivery { return c.messages }
func (c *chanConsumer) Errors() <-chan error            { return c.errors }
func (c *chanConsumer) Close() error                    { return nil }

func Test_Consume_ProcessesAllDeliveriesBeforeShutdown(t *testing.T) {
	const orders = 12

	f := newFixture(Policy{WorkerCount: 3})
	productID, err := f.store.CreateProduct(context.Background(), model.Product{
		Name:          "laptop",
		StockQuantity: orders,
	})
	require.NoError(t, err)

	consumer := newChanConsumer(orders)
	var acked atomic.Int32
	for i := 0; i < orders; i++ {
		orderID, err := f.store.CreateOrder(context.Background(), model.Order{
			CustomerName: "bulk",
			ProductID:    productID,
			Quantity:     1,
		})
		require.NoError(t, err)

		content, err := json.Marshal(hubevent.NewOrderCreated(orderID))
		require.NoError(t, err)
		consumer.messages <- kafka.Delivery{
			Value: content,
			Ack:   func() { acked.Add(1) },
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Consume(ctx, consumer)
		close(done)
	}()

	require.Eventually(t, func() bool { return acked.Load() == orders }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain in-flight work on shutdown")
	}

	product, _ := f.store.GetProduct(context.Background(), productID)
	assert.Equal(t, 0, product.StockQuantity)
}

func Test_Consume_BrokerErrorDoesNotHaltConsumption(t *testing.T) {
	f := newFixture(Policy{WorkerCount: 1})
	orderID, _ := seed(t, f,
		model.Product{Name: "laptop", StockQuantity: 5},
		model.Order{CustomerName: "ana", Quantity: 1},
	)

	consumer := newChanConsumer(1)
	consumer.errors <- assert.AnError

	var acked atomic.Bool
	content, err := json.Marshal(hubevent.NewOrderCreated(orderID))
	require.NoError(t, err)
	consumer.messages <- kafka.Delivery{
		Value: content,
		Ack:   func() { acked.Store(true) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Consume(ctx, consumer)
		close(done)
	}()

	require.Eventually(t, func() bool { return acked.Load() }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	order, _ := f.store.GetOrder(context.Background(), orderID)
	assert.Equal(t, model.OrderFulfilled, order.Status)
}
