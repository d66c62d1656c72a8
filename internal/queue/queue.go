// Package queue hands engine work to the worker process over watermill.
// Tasks are hints: every handler re-reads state from the store, so a lost
// or duplicated message only changes latency, never outcome.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	TopicOrderPaid            = "orders.paid"
	TopicOrderCompleted       = "orders.completed"
	TopicListingSaleSubmitted = "listings.sale_submitted"
)

type OrderTask struct {
	OrderID string `json:"order_id"`
}

type ListingTask struct {
	ListingID string `json:"listing_id"`
	TxHash    string `json:"tx_hash"`
}

// Publisher is what services use to enqueue tasks.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type WatermillPublisher struct {
	pub message.Publisher
}

func NewPublisher(pub message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{pub: pub}
}

func (p *WatermillPublisher) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s task: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("type", topic)
	middleware.SetCorrelationID(watermill.NewShortUUID(), msg)
	msg.SetContext(ctx)
	return p.pub.Publish(topic, msg)
}

func (p *WatermillPublisher) Close() error {
	return p.pub.Close()
}

// Decode unmarshals a task payload.
func Decode[T any](msg *message.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("decode message %s: %w", msg.UUID, err)
	}
	return v, nil
}

func NewRedisPublisher(client redis.UniversalClient, logger watermill.LoggerAdapter) (*WatermillPublisher, error) {
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, logger)
	if err != nil {
		return nil, err
	}
	return NewPublisher(pub), nil
}

func NewRedisSubscriber(client redis.UniversalClient, consumerGroup string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: consumerGroup,
	}, logger)
}

// Nop drops every task. Used when no broker is configured; the
// reconciliation loop still picks the work up.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
