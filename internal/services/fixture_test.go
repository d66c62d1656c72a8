package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/chain/chaintest"
	"TicketMint/internal/logging"
	"TicketMint/internal/models"
	"TicketMint/internal/store"
	"TicketMint/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	alice          = "u-alice"
	bob            = "u-bob"
	carol          = "u-carol"
	platformWallet = "tix1platform"
	organizerID    = "org-1"
	eventID        = "ev-1"
	orphanEventID  = "ev-orphan"
)

func wallet(userID string) string { return "tix1" + userID[2:] }

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memstore.Store
	ledger   *chaintest.Ledger
	now      time.Time
	orders   OrderService
	minter   Minter
	settler  Settler
	listings ListingService
	tickets  TicketService
	paySeq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	for _, id := range []string{alice, bob, carol} {
		st.PutUser(models.User{ID: id, WalletAddress: wallet(id)})
	}
	st.PutOrganizer(models.Organizer{ID: organizerID, UserID: carol, WalletAddress: "tix1organizer"})
	org := organizerID
	st.PutEvent(models.Event{ID: eventID, OrganizerID: &org, Name: "Show", TicketPrice: decimal.NewFromInt(10), TicketsAvailable: 5})
	st.PutEvent(models.Event{ID: orphanEventID, Name: "House", TicketPrice: decimal.NewFromInt(10), TicketsAvailable: 5})
	st.SetConfig(models.ConfigPlatformFeePercentage, "10")
	st.SetConfig(models.ConfigPlatformWallet, platformWallet)

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  st,
		ledger: chaintest.New(),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	log := logging.Discard()
	clock := func() time.Time { return f.now }
	f.ledger.Now = clock

	f.orders = OrderService{Store: st, Ledger: f.ledger, Log: log, MaxQuantity: 10, TTL: 15 * time.Minute, Now: clock}
	f.settler = Settler{Store: st, Log: log, Places: 2, Now: clock}
	f.minter = Minter{Store: st, Ledger: f.ledger, Orders: f.orders, Log: log}
	f.listings = ListingService{Store: st, Ledger: f.ledger, Log: log, Places: 2, RecheckAfter: time.Minute, Now: clock}
	f.tickets = TicketService{Store: st, Log: log}
	return f
}

// pay registers a confirmed transfer of amount to the platform wallet.
func (f *fixture) pay(amount int64) string {
	f.paySeq++
	hash := fmt.Sprintf("PAY%04d", f.paySeq)
	f.ledger.PutTransfer(chain.Transfer{
		TxHash: hash,
		From:   "tix1payer",
		To:     platformWallet,
		Amount: decimal.NewFromInt(amount),
		Status: chain.TxConfirmed,
	})
	return hash
}

func (f *fixture) paidOrder(event string, qty int) *models.Order {
	f.t.Helper()
	order, err := f.orders.SubmitOrder(f.ctx, event, alice, qty)
	require.NoError(f.t, err)
	order, err = f.orders.ConfirmPayment(f.ctx, order.ID, f.pay(int64(10*qty)))
	require.NoError(f.t, err)
	require.Equal(f.t, models.OrderPaid, order.Status)
	return order
}

func (f *fixture) completedOrder(event string, qty int) *models.Order {
	f.t.Helper()
	order := f.paidOrder(event, qty)
	order, err := f.minter.MintTickets(f.ctx, order.ID)
	require.NoError(f.t, err)
	require.Equal(f.t, models.OrderCompleted, order.Status)
	return order
}

func (f *fixture) event(id string) *models.Event {
	f.t.Helper()
	var e *models.Event
	require.NoError(f.t, f.store.InTx(f.ctx, func(tx store.Tx) error {
		var err error
		e, err = tx.Events().Get(f.ctx, id)
		return err
	}))
	return e
}

func (f *fixture) order(id string) *models.Order {
	f.t.Helper()
	o, err := f.orders.GetOrder(f.ctx, id)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) orderTickets(orderID string) []*models.Ticket {
	f.t.Helper()
	tickets, err := f.tickets.OrderTickets(f.ctx, orderID)
	require.NoError(f.t, err)
	return tickets
}

// ownedTicket returns a valid ticket owned by alice.
func (f *fixture) ownedTicket() *models.Ticket {
	f.t.Helper()
	order := f.completedOrder(eventID, 1)
	tickets := f.orderTickets(order.ID)
	require.Len(f.t, tickets, 1)
	return tickets[0]
}

// saleTransfer registers an NFT transfer of ticket from alice to buyer.
func (f *fixture) saleTransfer(hash string, ticket *models.Ticket, buyer string, price int64, status chain.TxStatus) {
	f.ledger.PutTransfer(chain.Transfer{
		TxHash:      hash,
		MintAddress: ticket.NftMintAddress,
		From:        wallet(alice),
		To:          wallet(buyer),
		Amount:      decimal.NewFromInt(price),
		Status:      status,
	})
}
