package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/metrics"
	"TicketMint/internal/models"
	"TicketMint/internal/notify"
	"TicketMint/internal/payments"
	"TicketMint/internal/pricing"
	"TicketMint/internal/queue"
	"TicketMint/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const ReasonExpired = "expired"

type OrderService struct {
	Store       store.Store
	Ledger      chain.Ledger
	Deriver     chain.AddressDeriver
	Queue       queue.Publisher
	Notifier    notify.Notifier
	Log         *logrus.Entry
	MaxQuantity int
	TTL         time.Duration
	Denom       string
	Now         func() time.Time
}

func (s OrderService) SubmitOrder(ctx context.Context, eventID, userID string, quantity int) (*models.Order, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if quantity < 1 || (s.MaxQuantity > 0 && quantity > s.MaxQuantity) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	var depositAddr *string
	var derivationIdx *int64
	if s.Deriver.Enabled() {
		idx, err := s.Store.NextDerivationIndex(ctx)
		if err != nil {
			return nil, err
		}
		addr, err := s.Deriver.Derive(uint32(idx))
		if err != nil {
			return nil, err
		}
		depositAddr, derivationIdx = &addr, &idx
	}

	now := clock(s.Now)
	order := &models.Order{
		ID:              uuid.NewString(),
		EventID:         eventID,
		UserID:          userID,
		Quantity:        quantity,
		Status:          models.OrderPending,
		DepositAddress:  depositAddr,
		DerivationIndex: derivationIdx,
		ExpiresAt:       now.Add(s.TTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Users().Get(ctx, userID); err != nil {
			return notFound(err, ErrUserNotFound)
		}
		event, err := tx.Events().GetForUpdate(ctx, eventID)
		if err != nil {
			return notFound(err, ErrEventNotFound)
		}
		if event.TicketsAvailable < quantity {
			return ErrInsufficientInventory
		}
		if err := tx.Events().AdjustInventory(ctx, eventID, -quantity, 0); err != nil {
			return err
		}
		order.TotalPrice = pricing.OrderTotal(event.TicketPrice, quantity)
		return tx.Orders().Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTransitioned.WithLabelValues(string(models.OrderPending)).Inc()
	logger(s.Log).WithFields(logrus.Fields{
		"order_id": order.ID,
		"event_id": eventID,
		"quantity": quantity,
	}).Info("order submitted")
	return order, nil
}

func (s OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order *models.Order
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, orderID)
		return notFound(err, ErrOrderNotFound)
	})
	return order, err
}

// ConfirmPayment checks txHash on the ledger and moves the order to PAID.
// Replaying the same hash returns the order unchanged. A payment that lands
// after expiresAt is still accepted while the order is PENDING.
func (s OrderService) ConfirmPayment(ctx context.Context, orderID, txHash string) (*models.Order, error) {
	txHash = NormalizeHash(txHash)
	if txHash == "" {
		return nil, ErrMissingTxHash
	}

	var order *models.Order
	var platformWallet string
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if order, err = tx.Orders().Get(ctx, orderID); err != nil {
			return notFound(err, ErrOrderNotFound)
		}
		if order.TransactionHash != nil || order.Status != models.OrderPending {
			return nil
		}
		other, err := tx.Orders().FindByTxHash(ctx, txHash)
		switch {
		case err == nil && other.ID != orderID:
			return ErrTxHashUsed
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
		platformWallet, err = optionalConfig(ctx, tx, models.ConfigPlatformWallet)
		return err
	})
	if err != nil {
		return nil, err
	}
	if order.TransactionHash != nil {
		if *order.TransactionHash == txHash {
			return order, nil
		}
		return nil, ErrOrderNotPending
	}
	if order.Status != models.OrderPending {
		return nil, ErrOrderNotPending
	}

	tr, err := s.Ledger.GetTransfer(ctx, txHash)
	if err != nil {
		if errors.Is(err, chain.ErrTxNotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("lookup payment %s: %w", txHash, err)
	}
	status, err := payments.Verify(tr, payments.ForOrder(order, platformWallet, s.Denom))
	switch {
	case errors.Is(err, payments.ErrTxFailed):
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrPaymentMismatch, err)
	case status != chain.TxConfirmed:
		return nil, ErrPaymentPending
	}

	paidAt := tr.Timestamp
	if paidAt.IsZero() {
		paidAt = clock(s.Now)
	}

	err = s.Store.InTx(ctx, func(tx store.Tx) error {
		ok, err := tx.Orders().MarkPaid(ctx, orderID, txHash, paidAt)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrTxHashUsed
		}
		if err != nil {
			return err
		}
		if order, err = tx.Orders().Get(ctx, orderID); err != nil {
			return err
		}
		if !ok && (order.TransactionHash == nil || *order.TransactionHash != txHash) {
			return ErrOrderNotPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTransitioned.WithLabelValues(string(models.OrderPaid)).Inc()
	log := logger(s.Log).WithFields(logrus.Fields{"order_id": orderID, "tx": txHash})
	if paidAt.After(order.ExpiresAt) {
		log.Warn("payment confirmed after order expiry")
	}
	log.Info("payment confirmed")
	if s.Queue != nil {
		if err := s.Queue.Publish(ctx, queue.TopicOrderPaid, queue.OrderTask{OrderID: orderID}); err != nil {
			log.WithError(err).Warn("enqueue mint failed; reconciler will pick it up")
		}
	}
	return order, nil
}

// CancelOrder releases a PENDING order's reservation. Cancelling an order
// whose payment was already confirmed is rejected.
func (s OrderService) CancelOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	var order *models.Order
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = cancelPending(ctx, tx, orderID, reason, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger(s.Log).WithFields(logrus.Fields{"order_id": orderID, "reason": reason}).Info("order cancelled")
	return order, nil
}

// ExpireOrders cancels up to limit PENDING orders past their expiry.
func (s OrderService) ExpireOrders(ctx context.Context, limit int) (int, error) {
	now := clock(s.Now)
	var expired []*models.Order
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		expired, err = tx.Orders().ListExpired(ctx, now, limit)
		return err
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, o := range expired {
		err := s.Store.InTx(ctx, func(tx store.Tx) error {
			_, err := cancelPending(ctx, tx, o.ID, ReasonExpired, &now)
			return err
		})
		switch {
		case err == nil:
			count++
		case errors.Is(err, ErrOrderNotCancellable):
			// paid between listing and locking
		default:
			return count, fmt.Errorf("expire order %s: %w", o.ID, err)
		}
	}
	if count > 0 {
		logger(s.Log).WithField("count", count).Info("expired pending orders")
	}
	return count, nil
}

func cancelPending(ctx context.Context, tx store.Tx, orderID, reason string, expiredBy *time.Time) (*models.Order, error) {
	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, notFound(err, ErrOrderNotFound)
	}
	switch order.Status {
	case models.OrderCancelled:
		return order, nil
	case models.OrderPending:
	default:
		return nil, ErrOrderNotCancellable
	}
	if expiredBy != nil && !order.ExpiresAt.Before(*expiredBy) {
		return nil, ErrOrderNotCancellable
	}

	var r *string
	if reason != "" {
		r = &reason
	}
	ok, err := tx.Orders().Transition(ctx, orderID, []models.OrderStatus{models.OrderPending}, models.OrderCancelled, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotCancellable
	}
	if err := tx.Events().AdjustInventory(ctx, order.EventID, order.Quantity, 0); err != nil {
		return nil, err
	}
	metrics.OrdersTransitioned.WithLabelValues(string(models.OrderCancelled)).Inc()
	order.Status = models.OrderCancelled
	order.FailureReason = r
	return order, nil
}

// FailOrder is the terminal failure path: the status write, ticket
// invalidation and inventory release commit together. Failing an order
// that is already FAILED is a no-op.
func (s OrderService) FailOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	var order *models.Order
	var already bool
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, ErrOrderNotFound)
		}
		if order.Status == models.OrderFailed {
			already = true
			return nil
		}
		ok, err := tx.Orders().Transition(ctx, orderID,
			[]models.OrderStatus{models.OrderPaid, models.OrderMinting}, models.OrderFailed, &reason)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderNotMintable
		}
		tickets, err := tx.Tickets().ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := tx.Tickets().SetValidityForOrder(ctx, orderID, false); err != nil {
			return err
		}
		if err := tx.Events().AdjustInventory(ctx, order.EventID, order.Quantity, -len(tickets)); err != nil {
			return err
		}
		order.Status = models.OrderFailed
		order.FailureReason = &reason
		return nil
	})
	if err != nil || already {
		return order, err
	}

	metrics.OrdersTransitioned.WithLabelValues(string(models.OrderFailed)).Inc()
	logger(s.Log).WithFields(logrus.Fields{"order_id": orderID, "reason": reason}).Warn("order failed")
	if s.Notifier != nil {
		msg := notify.Message{Type: notify.TypeOrderFailed, OrderID: orderID, Reason: reason}
		if err := s.Notifier.Notify(ctx, order.UserID, msg); err != nil {
			logger(s.Log).WithError(err).Warn("notify buyer failed")
		}
	}
	return order, nil
}

func NormalizeHash(h string) string {
	return strings.ToUpper(strings.TrimSpace(h))
}

func optionalConfig(ctx context.Context, tx store.Tx, key string) (string, error) {
	v, err := tx.Config().Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return strings.TrimSpace(v), err
}

func clock(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now().UTC()
}

func logger(e *logrus.Entry) *logrus.Entry {
	if e != nil {
		return e
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
