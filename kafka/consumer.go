package kafka

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"
)

// Delivery is one message from the broker. Ack marks the consumer-group
// offset; an unacked delivery is redelivered after a rebalance or
// restart, which gives at-least-once semantics.
type Delivery struct {
	Value []byte
	Ack   func()
}

type IConsumer interface {
	Messages() <-chan Delivery
	Errors() <-chan error
	Close() error
}

type groupConsumer struct {
	group    sarama.ConsumerGroup
	topic    string
	messages chan Delivery
	errors   chan error
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewConsumer(host string, topic string, groupID string) (IConsumer, error) {
	conf := sarama.NewConfig()
	conf.Version = sarama.V2_1_0_0
	conf.Consumer.Return.Errors = true
	conf.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup([]string{host}, groupID, conf)
	if err != nil {
		return nil, fmt.Errorf("connect kafka %s: %w", host, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &groupConsumer{
		group:    group,
		topic:    topic,
		messages: make(chan Delivery),
		errors:   make(chan error, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run(ctx)
	go c.forwardErrors()
	return c, nil
}

func (c *groupConsumer) Messages() <-chan Delivery { return c.messages }

func (c *groupConsumer) Errors() <-chan error { return c.errors }

func (c *groupConsumer) Close() error {
	c.cancel()
	<-c.done
	return c.group.Close()
}

func (c *groupConsumer) run(ctx context.Context) {
	defer close(c.done)
	for {
		// Consume returns on every rebalance; loop until cancelled.
		if err := c.group.Consume(ctx, []string{c.topic}, c); err != nil {
			select {
			case c.errors <- err:
			default:
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *groupConsumer) forwardErrors() {
	for err := range c.group.Errors() {
		select {
		case c.errors <- err:
		default:
		}
	}
}

func (c *groupConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *groupConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *groupConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		m := msg
		delivery := Delivery{
			Value: m.Value,
			Ack:   func() { sess.MarkMessage(m, "") },
		}
		select {
		case c.messages <- delivery:
		case <-sess.Context().Done():
			return nil
		}
	}
	return nil
}
