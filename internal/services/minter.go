package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/lease"
	"TicketMint/internal/metrics"
	"TicketMint/internal/models"
	"TicketMint/internal/notify"
	"TicketMint/internal/queue"
	"TicketMint/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Minter struct {
	Store    store.Store
	Ledger   chain.Ledger
	Orders   OrderService
	Settler  Settler
	Lease    lease.Locker
	Queue    queue.Publisher
	Notifier notify.Notifier
	Log      *logrus.Entry
}

type mintPlan struct {
	order   *models.Order
	event   *models.Event
	wallet  string
	tickets map[int]*models.Ticket
}

// MintTickets drives a PAID or MINTING order to COMPLETED. It can be
// re-invoked at any point: units that already have a ticket row are
// skipped and the ledger dedupes repeated nonces. Ledger calls are made
// with no store transaction open.
//
// A pending finality or transient ledger failure returns a
// KindLedgerTransient error with the order left in MINTING. A ledger
// rejection fails the order.
func (m Minter) MintTickets(ctx context.Context, orderID string) (*models.Order, error) {
	if m.Lease != nil {
		release, ok, err := m.Lease.Acquire(ctx, "mint:"+orderID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrMintInProgress
		}
		defer release()
	}

	log := logger(m.Log).WithField("order_id", orderID)
	plan, err := m.begin(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if plan.order.Status == models.OrderCompleted {
		return plan.order, nil
	}

	for unit := 0; unit < plan.order.Quantity; unit++ {
		if _, ok := plan.tickets[unit]; ok {
			continue
		}
		ticket, err := m.mintUnit(ctx, plan, unit)
		if err != nil {
			if chain.IsFinal(err) {
				reason := fmt.Sprintf("mint unit %d rejected: %v", unit, err)
				if _, ferr := m.Orders.FailOrder(ctx, orderID, reason); ferr != nil {
					return nil, ferr
				}
				return nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
			}
			log.WithError(err).WithField("unit", unit).Warn("mint attempt incomplete")
			return nil, err
		}
		plan.tickets[unit] = ticket
	}

	pending, err := m.checkFinality(ctx, plan)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return plan.order, fmt.Errorf("%w: %d of %d unconfirmed", ErrMintPending, pending, plan.order.Quantity)
	}

	order, err := m.complete(ctx, orderID)
	if err != nil {
		return nil, err
	}
	m.afterComplete(ctx, order, plan, log)
	return order, nil
}

func (m Minter) begin(ctx context.Context, orderID string) (*mintPlan, error) {
	plan := &mintPlan{tickets: map[int]*models.Ticket{}}
	err := m.Store.InTx(ctx, func(tx store.Tx) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, ErrOrderNotFound)
		}
		switch order.Status {
		case models.OrderCompleted:
			plan.order = order
			return nil
		case models.OrderPaid:
			ok, err := tx.Orders().Transition(ctx, orderID, []models.OrderStatus{models.OrderPaid}, models.OrderMinting, nil)
			if err != nil {
				return err
			}
			if !ok {
				return ErrOrderNotMintable
			}
			order.Status = models.OrderMinting
			metrics.OrdersTransitioned.WithLabelValues(string(models.OrderMinting)).Inc()
		case models.OrderMinting:
		default:
			return fmt.Errorf("%w: status %s", ErrOrderNotMintable, order.Status)
		}
		plan.order = order

		if plan.event, err = tx.Events().Get(ctx, order.EventID); err != nil {
			return notFound(err, ErrEventNotFound)
		}
		user, err := tx.Users().Get(ctx, order.UserID)
		if err != nil {
			return notFound(err, ErrUserNotFound)
		}
		plan.wallet = user.WalletAddress

		tickets, err := tx.Tickets().ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			plan.tickets[t.UnitIndex] = t
		}
		return nil
	})
	return plan, err
}

func (m Minter) mintUnit(ctx context.Context, plan *mintPlan, unit int) (*models.Ticket, error) {
	order := plan.order
	nonce := chain.MintNonce(order.ID, unit)

	start := time.Now()
	res, err := m.Ledger.Mint(ctx, chain.MintRequest{
		Nonce:     nonce,
		Recipient: plan.wallet,
		Metadata: chain.MintMetadata{
			EventID:   order.EventID,
			OrderID:   order.ID,
			UnitIndex: unit,
			Name:      fmt.Sprintf("%s #%d", plan.event.Name, unit+1),
		},
	})
	metrics.LedgerLatency.WithLabelValues("mint").Observe(time.Since(start).Seconds())
	metrics.LedgerCalls.WithLabelValues("mint", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		UnitIndex:      unit,
		EventID:        order.EventID,
		OwnerID:        order.UserID,
		NftMintAddress: res.MintAddress,
		TokenID:        res.TokenID,
		MintNonce:      nonce,
		MintTxHash:     NormalizeHash(res.TxHash),
		CreatedAt:      clock(m.Orders.Now),
	}
	err = m.Store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.Orders().GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != models.OrderMinting {
			return fmt.Errorf("%w: status %s", ErrOrderNotMintable, current.Status)
		}
		inserted, err := tx.Tickets().Insert(ctx, ticket)
		if err != nil {
			return err
		}
		if !inserted {
			tickets, err := tx.Tickets().ListByOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			for _, t := range tickets {
				if t.UnitIndex == unit {
					ticket = t
				}
			}
			return nil
		}
		return tx.Events().AdjustInventory(ctx, order.EventID, 0, 1)
	})
	if err != nil {
		return nil, err
	}
	metrics.TicketsMinted.Inc()
	return ticket, nil
}

// checkFinality confirms what the ledger has finalized and returns how many
// mints are still pending. A failed mint fails the order.
func (m Minter) checkFinality(ctx context.Context, plan *mintPlan) (int, error) {
	var confirmed []string
	pending := 0
	for unit := 0; unit < plan.order.Quantity; unit++ {
		t := plan.tickets[unit]
		if t.MintConfirmed {
			continue
		}
		info, err := m.Ledger.TransactionStatus(ctx, t.MintTxHash)
		metrics.LedgerCalls.WithLabelValues("tx_status", metrics.Outcome(err)).Inc()
		if errors.Is(err, chain.ErrTxNotFound) {
			pending++
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("finality of %s: %w", t.MintTxHash, err)
		}
		switch info.Status {
		case chain.TxConfirmed:
			confirmed = append(confirmed, t.ID)
		case chain.TxFailed:
			reason := fmt.Sprintf("mint unit %d failed on ledger: %s", unit, info.Reason)
			if _, err := m.Orders.FailOrder(ctx, plan.order.ID, reason); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("%w: %s", ErrMintFailed, reason)
		default:
			pending++
		}
	}

	if len(confirmed) > 0 {
		err := m.Store.InTx(ctx, func(tx store.Tx) error {
			for _, id := range confirmed {
				if err := tx.Tickets().MarkMintConfirmed(ctx, id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return pending, nil
}

func (m Minter) complete(ctx context.Context, orderID string) (*models.Order, error) {
	var order *models.Order
	err := m.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if order, err = tx.Orders().GetForUpdate(ctx, orderID); err != nil {
			return err
		}
		if order.Status == models.OrderCompleted {
			return nil
		}
		if order.Status != models.OrderMinting {
			return fmt.Errorf("%w: status %s", ErrOrderNotMintable, order.Status)
		}
		tickets, err := tx.Tickets().ListByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(tickets) != order.Quantity {
			return fmt.Errorf("%w: %d of %d tickets recorded", ErrMintPending, len(tickets), order.Quantity)
		}
		for _, t := range tickets {
			if !t.MintConfirmed {
				return fmt.Errorf("%w: ticket %s unconfirmed", ErrMintPending, t.ID)
			}
		}
		ok, err := tx.Orders().Complete(ctx, orderID, tickets[0].NftMintAddress)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderNotMintable
		}
		if _, err := tx.Tickets().SetValidityForOrder(ctx, orderID, true); err != nil {
			return err
		}
		order, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (m Minter) afterComplete(ctx context.Context, order *models.Order, plan *mintPlan, log *logrus.Entry) {
	metrics.OrdersTransitioned.WithLabelValues(string(models.OrderCompleted)).Inc()
	log.WithField("tickets", order.Quantity).Info("order completed")

	if m.Settler.Store != nil {
		if _, err := m.Settler.Settle(ctx, order.ID); err != nil {
			log.WithError(err).Warn("settlement deferred")
		}
	}
	if m.Queue != nil {
		if err := m.Queue.Publish(ctx, queue.TopicOrderCompleted, queue.OrderTask{OrderID: order.ID}); err != nil {
			log.WithError(err).Warn("enqueue completion failed")
		}
	}
	if m.Notifier != nil {
		ids := make([]string, 0, len(plan.tickets))
		for unit := 0; unit < order.Quantity; unit++ {
			if t, ok := plan.tickets[unit]; ok {
				ids = append(ids, t.ID)
			}
		}
		msg := notify.Message{Type: notify.TypeOrderCompleted, OrderID: order.ID, TicketIDs: ids}
		if err := m.Notifier.Notify(ctx, order.UserID, msg); err != nil {
			log.WithError(err).Warn("notify buyer failed")
		}
	}
}
