package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/metrics"
	"TicketMint/internal/models"
	"TicketMint/internal/services"
	"TicketMint/internal/store"

	"github.com/sirupsen/logrus"
)

// Reconciler drives orders and listings that were left mid-flight by a
// crash, a dropped task or a slow ledger. Every pass is safe to repeat.
type Reconciler struct {
	Store    store.Store
	Orders   services.OrderService
	Minter   services.Minter
	Settler  services.Settler
	Listings services.ListingService
	Log      *logrus.Entry

	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Now         func() time.Time

	WSEndpoints         []string
	WSFailoverThreshold int
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			r.log().WithError(err).Error("reconcile pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single reconciliation pass. Stages run independently;
// the returned error joins the failures of all of them.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	var errs []error
	if err := r.expireOrders(ctx); err != nil {
		errs = append(errs, fmt.Errorf("expire: %w", err))
	}
	if err := r.driveMints(ctx); err != nil {
		errs = append(errs, fmt.Errorf("mint: %w", err))
	}
	if err := r.settleCompleted(ctx); err != nil {
		errs = append(errs, fmt.Errorf("settle: %w", err))
	}
	if err := r.checkPendingSales(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sales: %w", err))
	}
	return errors.Join(errs...)
}

func (r *Reconciler) expireOrders(ctx context.Context) error {
	n, err := r.Orders.ExpireOrders(ctx, r.batch())
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("expire", "error").Inc()
		return err
	}
	metrics.ReconcileRuns.WithLabelValues("expire", "ok").Add(float64(n))
	return nil
}

func (r *Reconciler) driveMints(ctx context.Context) error {
	now := r.now()
	var due []*models.Order
	err := r.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.Orders().ListDue(ctx, []models.OrderStatus{models.OrderPaid, models.OrderMinting}, now, r.batch())
		return err
	})
	if err != nil {
		return err
	}

	for _, order := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := r.log().WithField("order_id", order.ID)
		_, err := r.Minter.MintTickets(ctx, order.ID)
		metrics.ReconcileRuns.WithLabelValues("mint", metrics.Outcome(err)).Inc()
		switch {
		case err == nil:
			log.Info("order completed by reconciler")
		case errors.Is(err, services.ErrMintInProgress):
		case services.Retryable(err), services.KindOf(err) == services.KindInternal:
			if err := r.backoffOrder(ctx, order, err, now); err != nil {
				log.WithError(err).Error("record mint attempt failed")
			}
		default:
			log.WithError(err).Warn("mint not retried")
		}
	}
	return nil
}

// backoffOrder persists a failed attempt, failing the order once the
// attempt budget is spent.
func (r *Reconciler) backoffOrder(ctx context.Context, order *models.Order, cause error, now time.Time) error {
	attempts := order.MintAttempts + 1
	log := r.log().WithFields(logrus.Fields{"order_id": order.ID, "attempts": attempts})
	if r.MaxAttempts > 0 && attempts >= r.MaxAttempts {
		log.WithError(cause).Warn("mint retries exhausted")
		_, err := r.Orders.FailOrder(ctx, order.ID, "mint retries exhausted: "+cause.Error())
		if errors.Is(err, services.ErrOrderNotMintable) {
			return nil
		}
		return err
	}
	next := now.Add(Backoff(attempts, r.BaseBackoff, r.MaxBackoff))
	log.WithError(cause).WithField("next_attempt_at", next).Info("mint deferred")
	return r.Store.InTx(ctx, func(tx store.Tx) error {
		return tx.Orders().RecordAttempt(ctx, order.ID, attempts, next, cause.Error())
	})
}

func (r *Reconciler) settleCompleted(ctx context.Context) error {
	var orders []*models.Order
	err := r.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		orders, err = tx.Orders().ListCompletedUnsettled(ctx, r.batch())
		return err
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, order := range orders {
		_, err := r.Settler.Settle(ctx, order.ID)
		metrics.ReconcileRuns.WithLabelValues("settle", metrics.Outcome(err)).Inc()
		if err != nil {
			r.log().WithError(err).WithField("order_id", order.ID).Error("settle failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Reconciler) checkPendingSales(ctx context.Context) error {
	now := r.now()
	var pending []*models.Listing
	err := r.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		pending, err = tx.Listings().ListPendingSales(ctx, now, r.batch())
		return err
	})
	if err != nil {
		return err
	}

	for _, l := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := r.log().WithField("listing_id", l.ID)
		_, err := r.Listings.ReconcileSale(ctx, l.ID)
		metrics.ReconcileRuns.WithLabelValues("sale", metrics.Outcome(err)).Inc()
		switch {
		case err == nil:
		case services.Retryable(err), services.KindOf(err) == services.KindInternal:
			if err := r.backoffSale(ctx, l, err, now); err != nil {
				log.WithError(err).Error("record sale check failed")
			}
		default:
			log.WithError(err).Info("pending sale cleared")
		}
	}
	return nil
}

func (r *Reconciler) backoffSale(ctx context.Context, l *models.Listing, cause error, now time.Time) error {
	attempts := l.PendingAttempts + 1
	if r.MaxAttempts > 0 && attempts >= r.MaxAttempts && l.PendingTxHash != nil {
		r.log().WithError(cause).WithField("listing_id", l.ID).Warn("sale never confirmed; releasing listing")
		return r.Listings.ReleasePending(ctx, l.ID, *l.PendingTxHash)
	}
	next := now.Add(Backoff(attempts, r.BaseBackoff, r.MaxBackoff))
	return r.Store.InTx(ctx, func(tx store.Tx) error {
		return tx.Listings().RecordPendingAttempt(ctx, l.ID, attempts, next)
	})
}

// HandleFinality reacts to a ledger finality notification by re-driving
// whatever order or listing owns the transaction.
func (r *Reconciler) HandleFinality(ctx context.Context, info *chain.TxInfo) error {
	hash := services.NormalizeHash(info.Hash)
	var ticket *models.Ticket
	var listing *models.Listing
	err := r.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ticket, err = tx.Tickets().FindByMintTx(ctx, hash)
		if err == nil || !errors.Is(err, store.ErrNotFound) {
			return err
		}
		listing, err = tx.Listings().FindByPendingTx(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	log := r.log().WithFields(logrus.Fields{"tx": hash, "status": info.Status})
	switch {
	case ticket != nil:
		_, err = r.Minter.MintTickets(ctx, ticket.OrderID)
		log = log.WithField("order_id", ticket.OrderID)
	case listing != nil:
		_, err = r.Listings.ReconcileSale(ctx, listing.ID)
		log = log.WithField("listing_id", listing.ID)
	default:
		return nil
	}
	if err != nil && (services.Retryable(err) || errors.Is(err, services.ErrMintInProgress)) {
		log.WithError(err).Debug("finality handled; still waiting")
		return nil
	}
	if err != nil {
		log.WithError(err).Warn("finality handling failed")
		return err
	}
	log.Info("finality handled")
	return nil
}

// Backoff returns base doubled per prior attempt, capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if limit > 0 && d >= limit {
			return limit
		}
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

func (r *Reconciler) batch() int {
	if r.BatchSize > 0 {
		return r.BatchSize
	}
	return 50
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Reconciler) log() *logrus.Entry {
	if r.Log != nil {
		return r.Log
	}
	return logrus.WithField("component", "reconciler")
}
