package worker

import (
	"errors"
	"time"

	"TicketMint/internal/queue"
	"TicketMint/internal/services"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/sirupsen/logrus"
)

// Handlers consume the task topics. A task only shortens the wait for the
// reconciler, so ledger-side waits are acked and left to the persisted
// backoff. Only infrastructure errors are nacked for redelivery.
type Handlers struct {
	Minter   services.Minter
	Settler  services.Settler
	Listings services.ListingService
	Log      *logrus.Entry
}

func NewRouter(sub message.Subscriber, h Handlers, logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	retry := middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Logger:          logger,
	}
	router.AddMiddleware(
		middleware.CorrelationID,
		middleware.Recoverer,
		retry.Middleware,
	)

	router.AddNoPublisherHandler("mint-paid-order", queue.TopicOrderPaid, sub, h.OrderPaid)
	router.AddNoPublisherHandler("settle-completed-order", queue.TopicOrderCompleted, sub, h.OrderCompleted)
	router.AddNoPublisherHandler("check-submitted-sale", queue.TopicListingSaleSubmitted, sub, h.SaleSubmitted)
	return router, nil
}

func (h Handlers) OrderPaid(msg *message.Message) error {
	task, err := queue.Decode[queue.OrderTask](msg)
	if err != nil {
		h.log(msg).WithError(err).Error("dropping malformed task")
		return nil
	}
	_, err = h.Minter.MintTickets(msg.Context(), task.OrderID)
	return h.settle(msg, err, logrus.Fields{"order_id": task.OrderID})
}

func (h Handlers) OrderCompleted(msg *message.Message) error {
	task, err := queue.Decode[queue.OrderTask](msg)
	if err != nil {
		h.log(msg).WithError(err).Error("dropping malformed task")
		return nil
	}
	_, err = h.Settler.Settle(msg.Context(), task.OrderID)
	return h.settle(msg, err, logrus.Fields{"order_id": task.OrderID})
}

func (h Handlers) SaleSubmitted(msg *message.Message) error {
	task, err := queue.Decode[queue.ListingTask](msg)
	if err != nil {
		h.log(msg).WithError(err).Error("dropping malformed task")
		return nil
	}
	_, err = h.Listings.ReconcileSale(msg.Context(), task.ListingID)
	return h.settle(msg, err, logrus.Fields{"listing_id": task.ListingID, "tx": task.TxHash})
}

// settle decides whether a handler outcome acks or nacks the message.
func (h Handlers) settle(msg *message.Message, err error, fields logrus.Fields) error {
	log := h.log(msg).WithFields(fields)
	switch {
	case err == nil:
		log.Debug("task handled")
		return nil
	case services.Retryable(err), errors.Is(err, services.ErrMintInProgress):
		log.WithError(err).Debug("task deferred to reconciler")
		return nil
	case services.KindOf(err) == services.KindInternal:
		return err
	default:
		log.WithError(err).Info("task rejected")
		return nil
	}
}

func (h Handlers) log(msg *message.Message) *logrus.Entry {
	base := h.Log
	if base == nil {
		base = logrus.WithField("component", "router")
	}
	return base.WithFields(logrus.Fields{
		"message_uuid":   msg.UUID,
		"correlation_id": middleware.MessageCorrelationID(msg),
	})
}
