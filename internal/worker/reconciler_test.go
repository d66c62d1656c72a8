package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/chain/chaintest"
	"TicketMint/internal/logging"
	"TicketMint/internal/models"
	"TicketMint/internal/services"
	"TicketMint/internal/store"
	"TicketMint/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	buyer    = "u-buyer"
	reseller = "u-reseller"
	eventID  = "ev-1"
)

type env struct {
	t      *testing.T
	ctx    context.Context
	store  *memstore.Store
	ledger *chaintest.Ledger
	now    time.Time
	rec    *Reconciler
	seq    int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	st.PutUser(models.User{ID: buyer, WalletAddress: "tix1buyer"})
	st.PutUser(models.User{ID: reseller, WalletAddress: "tix1reseller"})
	st.PutOrganizer(models.Organizer{ID: "org-1", UserID: reseller, WalletAddress: "tix1org"})
	org := "org-1"
	st.PutEvent(models.Event{ID: eventID, OrganizerID: &org, Name: "Gig", TicketPrice: decimal.NewFromInt(10), TicketsAvailable: 10})
	st.SetConfig(models.ConfigPlatformFeePercentage, "10")
	st.SetConfig(models.ConfigPlatformWallet, "tix1platform")

	e := &env{
		t:      t,
		ctx:    context.Background(),
		store:  st,
		ledger: chaintest.New(),
		now:    time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	log := logging.Discard()
	clock := func() time.Time { return e.now }
	e.ledger.Now = clock

	orders := services.OrderService{Store: st, Ledger: e.ledger, Log: log, MaxQuantity: 10, TTL: 15 * time.Minute, Now: clock}
	e.rec = &Reconciler{
		Store:       st,
		Orders:      orders,
		Minter:      services.Minter{Store: st, Ledger: e.ledger, Orders: orders, Log: log},
		Settler:     services.Settler{Store: st, Log: log, Places: 2},
		Listings:    services.ListingService{Store: st, Ledger: e.ledger, Log: log, Places: 2, RecheckAfter: time.Minute, Now: clock},
		Log:         log,
		BatchSize:   10,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
		Now:         clock,
	}
	return e
}

func (e *env) paidOrder(qty int) *models.Order {
	e.t.Helper()
	order, err := e.rec.Orders.SubmitOrder(e.ctx, eventID, buyer, qty)
	require.NoError(e.t, err)
	e.seq++
	hash := fmt.Sprintf("PAY%03d", e.seq)
	e.ledger.PutTransfer(chain.Transfer{
		TxHash: hash,
		To:     "tix1platform",
		Amount: order.TotalPrice,
		Status: chain.TxConfirmed,
	})
	order, err = e.rec.Orders.ConfirmPayment(e.ctx, order.ID, hash)
	require.NoError(e.t, err)
	return order
}

func (e *env) order(id string) *models.Order {
	e.t.Helper()
	o, err := e.rec.Orders.GetOrder(e.ctx, id)
	require.NoError(e.t, err)
	return o
}

func (e *env) distribution(orderID string) (*models.PaymentDistribution, error) {
	var d *models.PaymentDistribution
	err := e.store.InTx(e.ctx, func(tx store.Tx) error {
		var err error
		d, err = tx.Distributions().GetByOrder(e.ctx, orderID)
		return err
	})
	return d, err
}

func TestRunOnce_CompletesAndSettlesPaidOrder(t *testing.T) {
	e := newEnv(t)
	order := e.paidOrder(2)

	require.NoError(t, e.rec.RunOnce(e.ctx))

	assert.Equal(t, models.OrderCompleted, e.order(order.ID).Status)
	dist, err := e.distribution(order.ID)
	require.NoError(t, err)
	assert.True(t, dist.PlatformShare.Equal(decimal.NewFromInt(2)))
	assert.True(t, dist.OrganizerShare.Equal(decimal.NewFromInt(18)))

	require.NoError(t, e.rec.RunOnce(e.ctx))
	assert.Equal(t, 2, e.ledger.Mints())
}

func TestRunOnce_MintsWhenLedgerClockIsAhead(t *testing.T) {
	e := newEnv(t)
	order, err := e.rec.Orders.SubmitOrder(e.ctx, eventID, buyer, 1)
	require.NoError(t, err)
	e.ledger.PutTransfer(chain.Transfer{
		TxHash:    "PAYAHEAD",
		To:        "tix1platform",
		Amount:    order.TotalPrice,
		Status:    chain.TxConfirmed,
		Timestamp: e.now.Add(time.Hour),
	})
	paid, err := e.rec.Orders.ConfirmPayment(e.ctx, order.ID, "PAYAHEAD")
	require.NoError(t, err)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, e.now.Add(time.Hour), *paid.PaidAt)
	assert.Nil(t, paid.NextAttemptAt)

	require.NoError(t, e.rec.RunOnce(e.ctx))
	assert.Equal(t, models.OrderCompleted, e.order(order.ID).Status)
}

func TestRunOnce_ExpiresStaleOrders(t *testing.T) {
	e := newEnv(t)
	order, err := e.rec.Orders.SubmitOrder(e.ctx, eventID, buyer, 4)
	require.NoError(t, err)

	e.now = e.now.Add(20 * time.Minute)
	require.NoError(t, e.rec.RunOnce(e.ctx))

	got := e.order(order.ID)
	assert.Equal(t, models.OrderCancelled, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, services.ReasonExpired, *got.FailureReason)
}

func TestRunOnce_BacksOffThenFails(t *testing.T) {
	e := newEnv(t)
	e.ledger.MintErr = func(chain.MintRequest) error {
		return &chain.TransientError{Op: "mint", Err: errors.New("gateway timeout")}
	}
	order := e.paidOrder(1)

	require.NoError(t, e.rec.RunOnce(e.ctx))
	got := e.order(order.ID)
	assert.Equal(t, models.OrderMinting, got.Status)
	assert.Equal(t, 1, got.MintAttempts)
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, e.now.Add(time.Second), *got.NextAttemptAt)
	require.NotNil(t, got.LastError)
	calls := e.ledger.MintCalls

	require.NoError(t, e.rec.RunOnce(e.ctx))
	assert.Equal(t, calls, e.ledger.MintCalls, "not due yet")

	e.now = e.now.Add(time.Second)
	require.NoError(t, e.rec.RunOnce(e.ctx))
	got = e.order(order.ID)
	assert.Equal(t, 2, got.MintAttempts)
	assert.Equal(t, e.now.Add(2*time.Second), *got.NextAttemptAt)

	e.now = e.now.Add(2 * time.Second)
	require.NoError(t, e.rec.RunOnce(e.ctx))
	got = e.order(order.ID)
	assert.Equal(t, models.OrderFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "retries exhausted")

	var ev *models.Event
	require.NoError(t, e.store.InTx(e.ctx, func(tx store.Tx) error {
		var err error
		ev, err = tx.Events().Get(e.ctx, eventID)
		return err
	}))
	assert.Equal(t, 10, ev.TicketsAvailable)
}

func TestHandleFinality_CompletesMintingOrder(t *testing.T) {
	e := newEnv(t)
	e.ledger.MintStatus = chain.TxPending
	order := e.paidOrder(1)

	require.NoError(t, e.rec.RunOnce(e.ctx))
	assert.Equal(t, models.OrderMinting, e.order(order.ID).Status)

	hashes := e.ledger.MintTxs()
	require.Len(t, hashes, 1)
	e.ledger.SetStatus(hashes[0], chain.TxConfirmed)

	err := e.rec.HandleFinality(e.ctx, &chain.TxInfo{Hash: hashes[0], Status: chain.TxConfirmed})
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, e.order(order.ID).Status)

	assert.NoError(t, e.rec.HandleFinality(e.ctx, &chain.TxInfo{Hash: "UNRELATED"}))
}

// listedTicket returns an ACTIVE listing of a ticket owned by buyer.
func (e *env) listedTicket(price int64) (*models.Listing, *models.Ticket) {
	e.t.Helper()
	order := e.paidOrder(1)
	_, err := e.rec.Minter.MintTickets(e.ctx, order.ID)
	require.NoError(e.t, err)
	var tickets []*models.Ticket
	require.NoError(e.t, e.store.InTx(e.ctx, func(tx store.Tx) error {
		var err error
		tickets, err = tx.Tickets().ListByOrder(e.ctx, order.ID)
		return err
	}))
	require.Len(e.t, tickets, 1)
	l, err := e.rec.Listings.CreateListing(e.ctx, buyer, tickets[0].ID, decimal.NewFromInt(price), "sig")
	require.NoError(e.t, err)
	return l, tickets[0]
}

func TestRunOnce_FinalizesConfirmedSale(t *testing.T) {
	e := newEnv(t)
	l, _ := e.listedTicket(30)

	pending, err := e.rec.Listings.PurchaseListing(e.ctx, l.ID, reseller)
	require.NoError(t, err)
	e.ledger.SetStatus(*pending.PendingTxHash, chain.TxConfirmed)

	e.now = e.now.Add(time.Minute)
	require.NoError(t, e.rec.RunOnce(e.ctx))

	got, err := e.rec.Listings.GetListing(e.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, got.Status)
	assert.Equal(t, reseller, *got.SoldTo)
}

func TestRunOnce_ReleasesStuckSale(t *testing.T) {
	e := newEnv(t)
	l, _ := e.listedTicket(30)

	_, err := e.rec.Listings.PurchaseListing(e.ctx, l.ID, reseller)
	require.NoError(t, err)

	e.now = e.now.Add(time.Minute)
	require.NoError(t, e.rec.RunOnce(e.ctx))
	got, err := e.rec.Listings.GetListing(e.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PendingAttempts)
	assert.True(t, got.AwaitingConfirmation())

	e.now = e.now.Add(time.Second)
	require.NoError(t, e.rec.RunOnce(e.ctx))
	e.now = e.now.Add(2 * time.Second)
	require.NoError(t, e.rec.RunOnce(e.ctx))

	got, err = e.rec.Listings.GetListing(e.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingActive, got.Status)
	assert.False(t, got.AwaitingConfirmation())
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{6, time.Minute},
		{40, time.Minute},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Backoff(c.attempt, 5*time.Second, time.Minute), "attempt %d", c.attempt)
	}
	assert.Equal(t, time.Second, Backoff(1, 0, 0))
}
