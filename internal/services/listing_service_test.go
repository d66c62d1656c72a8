package services

import (
	"sync"
	"testing"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/models"
	"TicketMint/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) list(ticket *models.Ticket, price int64) *models.Listing {
	f.t.Helper()
	l, err := f.listings.CreateListing(f.ctx, alice, ticket.ID, decimal.NewFromInt(price), "sig")
	require.NoError(f.t, err)
	return l
}

func (f *fixture) ticket(id string) *models.Ticket {
	f.t.Helper()
	tk, err := f.tickets.GetTicket(f.ctx, id)
	require.NoError(f.t, err)
	return tk
}

func TestCreateListing(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()

	l := f.list(ticket, 25)
	assert.Equal(t, models.ListingActive, l.Status)
	assert.Equal(t, ticket.NftMintAddress, l.NftMintAddress)
	assert.True(t, l.OriginalPrice.Equal(decimal.NewFromInt(10)))

	_, err := f.listings.CreateListing(f.ctx, alice, ticket.ID, decimal.NewFromInt(30), "sig")
	assert.ErrorIs(t, err, ErrAlreadyListed)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = f.listings.CreateListing(f.ctx, bob, ticket.ID, decimal.NewFromInt(30), "sig")
	assert.ErrorIs(t, err, ErrNotTicketOwner)

	_, err = f.listings.CreateListing(f.ctx, alice, ticket.ID, decimal.Zero, "sig")
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = f.listings.CreateListing(f.ctx, alice, ticket.ID, decimal.NewFromInt(30), " ")
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestCreateListing_RequiresValidTicket(t *testing.T) {
	f := newFixture(t)
	f.ledger.MintStatus = chain.TxPending
	order := f.paidOrder(eventID, 1)
	_, err := f.minter.MintTickets(f.ctx, order.ID)
	require.ErrorIs(t, err, ErrMintPending)
	tickets := f.orderTickets(order.ID)
	require.Len(t, tickets, 1)

	_, err = f.listings.CreateListing(f.ctx, alice, tickets[0].ID, decimal.NewFromInt(20), "sig")
	assert.ErrorIs(t, err, ErrTicketNotValid)
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t)
	l := f.list(f.ownedTicket(), 25)

	_, err := f.listings.CancelListing(f.ctx, l.ID, bob)
	assert.ErrorIs(t, err, ErrNotSeller)

	cancelled, err := f.listings.CancelListing(f.ctx, l.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ListingCancelled, cancelled.Status)

	again, err := f.listings.CancelListing(f.ctx, l.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ListingCancelled, again.Status)

	relisted := f.list(f.ticket(l.TicketID), 30)
	assert.NotEqual(t, l.ID, relisted.ID)
}

func TestCancelListing_RejectedWhileSubmittedSaleStands(t *testing.T) {
	f := newFixture(t)
	l := f.list(f.ownedTicket(), 25)

	pending, err := f.listings.PurchaseListing(f.ctx, l.ID, bob)
	require.NoError(t, err)
	require.NotNil(t, pending.PendingTxHash)

	_, err = f.listings.CancelListing(f.ctx, l.ID, alice)
	assert.ErrorIs(t, err, ErrSaleInProgress)

	f.ledger.SetStatus(*pending.PendingTxHash, chain.TxConfirmed)
	_, err = f.listings.CancelListing(f.ctx, l.ID, alice)
	assert.ErrorIs(t, err, ErrSaleInProgress)

	sold, err := f.listings.ReconcileSale(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, sold.Status)
}

func TestCancelListing_AllowedAfterSubmittedSaleFails(t *testing.T) {
	f := newFixture(t)
	l := f.list(f.ownedTicket(), 25)

	pending, err := f.listings.PurchaseListing(f.ctx, l.ID, bob)
	require.NoError(t, err)
	f.ledger.SetStatus(*pending.PendingTxHash, chain.TxFailed)

	cancelled, err := f.listings.CancelListing(f.ctx, l.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ListingCancelled, cancelled.Status)
	assert.Nil(t, cancelled.PendingTxHash)
}

func TestFulfillListing_ConfirmedSaleOutranksLaterCancel(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)
	f.saleTransfer("SALE1", ticket, bob, 25, chain.TxConfirmed)

	f.now = f.now.Add(time.Minute)
	cancelled, err := f.listings.CancelListing(f.ctx, l.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ListingCancelled, cancelled.Status)

	sold, err := f.listings.FulfillListing(f.ctx, l.ID, bob, "SALE1")
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, sold.Status)
	assert.Nil(t, sold.CancelledAt)
	require.NotNil(t, sold.SoldTo)
	assert.Equal(t, bob, *sold.SoldTo)
	assert.Equal(t, bob, f.ticket(ticket.ID).OwnerID)

	replay, err := f.listings.FulfillListing(f.ctx, l.ID, bob, "SALE1")
	require.NoError(t, err)
	assert.Equal(t, sold.ID, replay.ID)
}

func TestFulfillListing_ConfirmedSaleWithdrawsRelisting(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)
	f.saleTransfer("SALE1", ticket, bob, 25, chain.TxConfirmed)

	f.now = f.now.Add(time.Minute)
	_, err := f.listings.CancelListing(f.ctx, l.ID, alice)
	require.NoError(t, err)
	relisted := f.list(f.ticket(ticket.ID), 40)

	_, err = f.listings.FulfillListing(f.ctx, l.ID, bob, "SALE1")
	require.NoError(t, err)
	assert.Equal(t, bob, f.ticket(ticket.ID).OwnerID)

	got, err := f.listings.GetListing(f.ctx, relisted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingCancelled, got.Status)
}

func TestFulfillListing_SaleAfterCancelIsRejected(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)

	_, err := f.listings.CancelListing(f.ctx, l.ID, alice)
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	f.saleTransfer("LATE", ticket, bob, 25, chain.TxConfirmed)
	_, err = f.listings.FulfillListing(f.ctx, l.ID, bob, "LATE")
	assert.ErrorIs(t, err, ErrListingNotActive)
	assert.Equal(t, alice, f.ticket(ticket.ID).OwnerID)

	f.saleTransfer("SLOW", ticket, bob, 25, chain.TxPending)
	_, err = f.listings.FulfillListing(f.ctx, l.ID, bob, "SLOW")
	assert.ErrorIs(t, err, ErrListingNotActive)
}

func TestFulfillListing(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)
	f.saleTransfer("SALE1", ticket, bob, 25, chain.TxConfirmed)

	sold, err := f.listings.FulfillListing(f.ctx, l.ID, bob, "sale1")
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, sold.Status)
	require.NotNil(t, sold.SoldTo)
	assert.Equal(t, bob, *sold.SoldTo)
	require.NotNil(t, sold.TransactionHash)
	assert.Equal(t, "SALE1", *sold.TransactionHash)
	assert.Equal(t, bob, f.ticket(ticket.ID).OwnerID)

	err = f.store.InTx(f.ctx, func(tx store.Tx) error {
		_, err := tx.Distributions().GetByListing(f.ctx, l.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	replay, err := f.listings.FulfillListing(f.ctx, l.ID, bob, "SALE1")
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, replay.Status)

	_, err = f.listings.CancelListing(f.ctx, l.ID, alice)
	assert.ErrorIs(t, err, ErrListingAlreadySold)

	_, err = f.listings.CreateListing(f.ctx, alice, ticket.ID, decimal.NewFromInt(10), "sig")
	assert.ErrorIs(t, err, ErrNotTicketOwner)
}

func TestFulfillListing_ResaleFee(t *testing.T) {
	f := newFixture(t)
	f.store.SetConfig(models.ConfigResaleFeePercentage, "5")
	ticket := f.ownedTicket()
	l := f.list(ticket, 40)
	f.saleTransfer("SALE2", ticket, bob, 40, chain.TxConfirmed)

	_, err := f.listings.FulfillListing(f.ctx, l.ID, bob, "SALE2")
	require.NoError(t, err)

	var resale *models.ResaleDistribution
	require.NoError(t, f.store.InTx(f.ctx, func(tx store.Tx) error {
		var err error
		resale, err = tx.Distributions().GetByListing(f.ctx, l.ID)
		return err
	}))
	assert.True(t, resale.PlatformShare.Equal(decimal.NewFromInt(2)))
	assert.True(t, resale.SellerShare.Equal(decimal.NewFromInt(38)))
	assert.Equal(t, wallet(alice), resale.SellerWallet)
	assert.Equal(t, f.now, resale.CreatedAt)
}

func TestFulfillListing_VerifiesTransfer(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)

	f.saleTransfer("CHEAP", ticket, bob, 20, chain.TxConfirmed)
	_, err := f.listings.FulfillListing(f.ctx, l.ID, bob, "CHEAP")
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	f.saleTransfer("TOCAROL", ticket, carol, 25, chain.TxConfirmed)
	_, err = f.listings.FulfillListing(f.ctx, l.ID, bob, "TOCAROL")
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	_, err = f.listings.FulfillListing(f.ctx, l.ID, alice, "TOCAROL")
	assert.ErrorIs(t, err, ErrSelfPurchase)

	assert.Equal(t, alice, f.ticket(ticket.ID).OwnerID)
}

func TestFulfillListing_ConcurrentBuyers(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)
	f.saleTransfer("BOBTX", ticket, bob, 25, chain.TxConfirmed)
	f.saleTransfer("CAROLTX", ticket, carol, 25, chain.TxConfirmed)

	buyers := map[string]string{bob: "BOBTX", carol: "CAROLTX"}
	results := map[string]error{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for buyer, tx := range buyers {
		wg.Add(1)
		go func(buyer, tx string) {
			defer wg.Done()
			_, err := f.listings.FulfillListing(f.ctx, l.ID, buyer, tx)
			mu.Lock()
			results[buyer] = err
			mu.Unlock()
		}(buyer, tx)
	}
	wg.Wait()

	var winner string
	losers := 0
	for buyer, err := range results {
		if err == nil {
			winner = buyer
			continue
		}
		assert.ErrorIs(t, err, ErrListingAlreadySold)
		losers++
	}
	require.NotEmpty(t, winner)
	assert.Equal(t, 1, losers)

	got, err := f.listings.GetListing(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, got.Status)
	assert.Equal(t, winner, *got.SoldTo)
	assert.Equal(t, winner, f.ticket(ticket.ID).OwnerID)
}

func TestFulfillListing_PendingThenFailed(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)
	f.saleTransfer("SLOW", ticket, bob, 25, chain.TxPending)

	_, err := f.listings.FulfillListing(f.ctx, l.ID, bob, "SLOW")
	assert.ErrorIs(t, err, ErrSalePending)
	got, err := f.listings.GetListing(f.ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.AwaitingConfirmation())

	_, err = f.listings.CancelListing(f.ctx, l.ID, alice)
	assert.ErrorIs(t, err, ErrSaleInProgress)

	f.saleTransfer("OTHER", ticket, carol, 25, chain.TxPending)
	_, err = f.listings.FulfillListing(f.ctx, l.ID, carol, "OTHER")
	assert.ErrorIs(t, err, ErrSaleInProgress)

	f.ledger.SetStatus("SLOW", chain.TxFailed)
	_, err = f.listings.ReconcileSale(f.ctx, l.ID)
	assert.ErrorIs(t, err, ErrSaleFailed)

	got, err = f.listings.GetListing(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingActive, got.Status)
	assert.False(t, got.AwaitingConfirmation())

	cancelled, err := f.listings.CancelListing(f.ctx, l.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ListingCancelled, cancelled.Status)
	assert.Equal(t, alice, f.ticket(ticket.ID).OwnerID)
}

func TestFulfillListing_ConfirmedBeatsPending(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)
	f.saleTransfer("SLOW", ticket, bob, 25, chain.TxPending)
	f.saleTransfer("FAST", ticket, carol, 25, chain.TxConfirmed)

	_, err := f.listings.FulfillListing(f.ctx, l.ID, bob, "SLOW")
	require.ErrorIs(t, err, ErrSalePending)

	sold, err := f.listings.FulfillListing(f.ctx, l.ID, carol, "FAST")
	require.NoError(t, err)
	assert.Equal(t, carol, *sold.SoldTo)
	assert.Nil(t, sold.PendingTxHash)

	f.ledger.SetStatus("SLOW", chain.TxConfirmed)
	_, err = f.listings.FulfillListing(f.ctx, l.ID, bob, "SLOW")
	assert.ErrorIs(t, err, ErrListingAlreadySold)
	assert.Equal(t, carol, f.ticket(ticket.ID).OwnerID)
}

func TestPurchaseListing(t *testing.T) {
	f := newFixture(t)
	ticket := f.ownedTicket()
	l := f.list(ticket, 25)

	pending, err := f.listings.PurchaseListing(f.ctx, l.ID, bob)
	require.NoError(t, err)
	require.True(t, pending.AwaitingConfirmation())
	assert.Equal(t, 1, f.ledger.TransferCalls)

	_, err = f.listings.PurchaseListing(f.ctx, l.ID, carol)
	assert.ErrorIs(t, err, ErrSaleInProgress)

	_, err = f.listings.ReconcileSale(f.ctx, l.ID)
	assert.ErrorIs(t, err, ErrSalePending)

	f.ledger.SetStatus(*pending.PendingTxHash, chain.TxConfirmed)
	sold, err := f.listings.ReconcileSale(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, sold.Status)
	assert.Equal(t, bob, f.ticket(ticket.ID).OwnerID)
}
