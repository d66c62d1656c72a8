package services

import (
	"testing"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitOrder_ReservesInventory(t *testing.T) {
	f := newFixture(t)

	order, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 3)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.True(t, order.TotalPrice.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, f.now.Add(15*time.Minute), order.ExpiresAt)
	assert.Nil(t, order.DepositAddress)

	assert.Equal(t, 2, f.event(eventID).TicketsAvailable)
}

func TestSubmitOrder_InsufficientInventory(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 6)
	assert.ErrorIs(t, err, ErrInsufficientInventory)
	assert.Equal(t, KindInventory, KindOf(err))
	assert.Equal(t, 5, f.event(eventID).TicketsAvailable)
}

func TestSubmitOrder_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.orders.SubmitOrder(f.ctx, eventID, alice, 11)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.orders.SubmitOrder(f.ctx, eventID, "", 1)
	assert.ErrorIs(t, err, ErrMissingUserID)
	_, err = f.orders.SubmitOrder(f.ctx, eventID, "u-nobody", 1)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = f.orders.SubmitOrder(f.ctx, "ev-missing", alice, 1)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestCancelOrder_ReleasesInventory(t *testing.T) {
	f := newFixture(t)
	order, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 2)
	require.NoError(t, err)

	cancelled, err := f.orders.CancelOrder(f.ctx, order.ID, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	assert.Equal(t, 5, f.event(eventID).TicketsAvailable)

	again, err := f.orders.CancelOrder(f.ctx, order.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, again.Status)
	assert.Equal(t, 5, f.event(eventID).TicketsAvailable)
}

func TestCancelOrder_RejectedAfterPayment(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(eventID, 1)

	_, err := f.orders.CancelOrder(f.ctx, order.ID, "too late")
	assert.ErrorIs(t, err, ErrOrderNotCancellable)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, models.OrderPaid, f.order(order.ID).Status)
	assert.Equal(t, 4, f.event(eventID).TicketsAvailable)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)
	order, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 3)
	require.NoError(t, err)

	t.Run("not yet visible", func(t *testing.T) {
		_, err := f.orders.ConfirmPayment(f.ctx, order.ID, "UNKNOWN")
		assert.ErrorIs(t, err, ErrTxNotFound)
		assert.True(t, Retryable(err))
	})

	t.Run("pending", func(t *testing.T) {
		f.ledger.PutTransfer(chain.Transfer{TxHash: "PENDINGPAY", To: platformWallet, Amount: decimal.NewFromInt(30), Status: chain.TxPending})
		_, err := f.orders.ConfirmPayment(f.ctx, order.ID, "pendingpay")
		assert.ErrorIs(t, err, ErrPaymentPending)
		assert.Equal(t, models.OrderPending, f.order(order.ID).Status)
	})

	t.Run("underpaid", func(t *testing.T) {
		_, err := f.orders.ConfirmPayment(f.ctx, order.ID, f.pay(29))
		assert.ErrorIs(t, err, ErrPaymentMismatch)
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("failed", func(t *testing.T) {
		f.ledger.PutTransfer(chain.Transfer{TxHash: "FAILEDPAY", To: platformWallet, Amount: decimal.NewFromInt(30), Status: chain.TxFailed})
		_, err := f.orders.ConfirmPayment(f.ctx, order.ID, "FAILEDPAY")
		assert.ErrorIs(t, err, ErrPaymentFailed)
		assert.Equal(t, KindLedgerFinal, KindOf(err))
	})

	hash := f.pay(30)
	paid, err := f.orders.ConfirmPayment(f.ctx, order.ID, hash)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, paid.Status)
	require.NotNil(t, paid.TransactionHash)
	assert.Equal(t, hash, *paid.TransactionHash)

	t.Run("replay", func(t *testing.T) {
		again, err := f.orders.ConfirmPayment(f.ctx, order.ID, hash)
		require.NoError(t, err)
		assert.Equal(t, models.OrderPaid, again.Status)
	})

	t.Run("different hash", func(t *testing.T) {
		_, err := f.orders.ConfirmPayment(f.ctx, order.ID, f.pay(30))
		assert.ErrorIs(t, err, ErrOrderNotPending)
	})

	t.Run("hash reused by another order", func(t *testing.T) {
		other, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 1)
		require.NoError(t, err)
		_, err = f.orders.ConfirmPayment(f.ctx, other.ID, hash)
		assert.ErrorIs(t, err, ErrTxHashUsed)
	})
}

func TestConfirmPayment_AfterExpiryStillPending(t *testing.T) {
	f := newFixture(t)
	order, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 1)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	paid, err := f.orders.ConfirmPayment(f.ctx, order.ID, f.pay(10))
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, paid.Status)
}

func TestExpireOrders(t *testing.T) {
	f := newFixture(t)
	stale, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 2)
	require.NoError(t, err)
	paid := f.paidOrder(eventID, 1)

	f.now = f.now.Add(10 * time.Minute)
	fresh, err := f.orders.SubmitOrder(f.ctx, eventID, alice, 1)
	require.NoError(t, err)

	f.now = f.now.Add(6 * time.Minute)
	n, err := f.orders.ExpireOrders(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.order(stale.ID)
	assert.Equal(t, models.OrderCancelled, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, ReasonExpired, *got.FailureReason)
	assert.Equal(t, models.OrderPending, f.order(fresh.ID).Status)
	assert.Equal(t, models.OrderPaid, f.order(paid.ID).Status)
	assert.Equal(t, 3, f.event(eventID).TicketsAvailable)
}

func TestFailOrder_Idempotent(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(eventID, 2)

	failed, err := f.orders.FailOrder(f.ctx, order.ID, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, failed.Status)
	assert.Equal(t, 5, f.event(eventID).TicketsAvailable)

	_, err = f.orders.FailOrder(f.ctx, order.ID, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, 5, f.event(eventID).TicketsAvailable)
}
