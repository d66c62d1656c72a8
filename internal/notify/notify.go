package notify

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go/v7"
	"github.com/sirupsen/logrus"
)

const (
	TypeOrderCompleted = "order_completed"
	TypeOrderFailed    = "order_failed"
	TypeTicketSold     = "ticket_sold"
	TypeTicketBought   = "ticket_bought"
)

type Message struct {
	Type      string   `json:"type"`
	OrderID   string   `json:"order_id,omitempty"`
	ListingID string   `json:"listing_id,omitempty"`
	TicketIDs []string `json:"ticket_ids,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Notifier delivers best-effort messages to a user. Failures never roll
// back the operation that triggered them.
type Notifier interface {
	Notify(ctx context.Context, userID string, msg Message) error
}

func Channel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

// Sender publishes a message on a channel.
type Sender interface {
	Send(ctx context.Context, channel string, msg any) error
}

type PubNub struct {
	Sender Sender
}

func NewPubNub(publishKey, subscribeKey, secretKey, userID string) *PubNub {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey
	return &PubNub{Sender: pubnubSender{pn: pubnub.NewPubNub(cfg)}}
}

func (p *PubNub) Notify(ctx context.Context, userID string, msg Message) error {
	if err := p.Sender.Send(ctx, Channel(userID), msg); err != nil {
		return fmt.Errorf("notify %s: %w", userID, err)
	}
	return nil
}

type pubnubSender struct {
	pn *pubnub.PubNub
}

func (s pubnubSender) Send(ctx context.Context, channel string, msg any) error {
	_, _, err := s.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(msg).
		Execute()
	return err
}

// Log writes notifications to the log instead of delivering them.
type Log struct {
	Entry *logrus.Entry
}

func (l Log) Notify(ctx context.Context, userID string, msg Message) error {
	l.Entry.WithFields(logrus.Fields{
		"user_id":    userID,
		"type":       msg.Type,
		"order_id":   msg.OrderID,
		"listing_id": msg.ListingID,
	}).Info("notification")
	return nil
}
