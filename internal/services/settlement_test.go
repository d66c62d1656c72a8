package services

import (
	"bytes"
	"sync"
	"testing"

	"TicketMint/internal/chain"
	"TicketMint/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettle_SplitsRevenue(t *testing.T) {
	f := newFixture(t)
	order := f.completedOrder(eventID, 3)

	dist, err := f.settler.Settle(f.ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, dist.TotalAmount.Equal(decimal.NewFromInt(30)))
	assert.True(t, dist.PlatformShare.Equal(decimal.NewFromInt(3)))
	assert.True(t, dist.OrganizerShare.Equal(decimal.NewFromInt(27)))
	assert.True(t, dist.OrganizerShare.Add(dist.PlatformShare).Equal(dist.TotalAmount))
	require.NotNil(t, dist.OrganizerWallet)
	assert.Equal(t, "tix1organizer", *dist.OrganizerWallet)
	assert.Equal(t, platformWallet, dist.PlatformWallet)
	assert.Equal(t, order.TransactionHash, dist.TransactionHash)
	assert.Equal(t, f.now, dist.CreatedAt)
	for _, ticket := range f.orderTickets(order.ID) {
		assert.Equal(t, f.now, ticket.CreatedAt)
	}

	again, err := f.settler.Settle(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, dist.ID, again.ID)
}

func TestSettle_ConcurrentCallsWriteOnce(t *testing.T) {
	f := newFixture(t)
	order := f.completedOrder(eventID, 2)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := f.settler.Settle(f.ctx, order.ID)
			errs[i] = err
			if d != nil {
				ids[i] = d.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestSettle_RoundsPlatformShare(t *testing.T) {
	f := newFixture(t)
	f.store.SetConfig(models.ConfigPlatformFeePercentage, "3.333")
	order := f.completedOrder(eventID, 1)

	dist, err := f.settler.Settle(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.33", dist.PlatformShare.StringFixed(2))
	assert.Equal(t, "9.67", dist.OrganizerShare.StringFixed(2))
}

func TestSettle_RequiresCompletedOrder(t *testing.T) {
	f := newFixture(t)
	order := f.paidOrder(eventID, 1)

	_, err := f.settler.Settle(f.ctx, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotCompleted)

	_, err = f.settler.Settle(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSettle_FeeOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.store.SetConfig(models.ConfigPlatformFeePercentage, "120")
	order := f.completedOrder(eventID, 1)

	_, err := f.settler.Settle(f.ctx, order.ID)
	assert.ErrorIs(t, err, ErrFeeOutOfRange)
}

func TestSettle_EventWithoutOrganizer(t *testing.T) {
	t.Run("platform", func(t *testing.T) {
		f := newFixture(t)
		order := f.completedOrder(orphanEventID, 3)

		dist, err := f.settler.Settle(f.ctx, order.ID)
		require.NoError(t, err)
		assert.True(t, dist.PlatformShare.Equal(decimal.NewFromInt(30)))
		assert.True(t, dist.OrganizerShare.IsZero())
		assert.Nil(t, dist.OrganizerWallet)
	})

	t.Run("unallocated", func(t *testing.T) {
		f := newFixture(t)
		f.settler.UnorganizedRevenue = RevenueUnallocated
		order := f.completedOrder(orphanEventID, 3)

		dist, err := f.settler.Settle(f.ctx, order.ID)
		require.NoError(t, err)
		assert.True(t, dist.PlatformShare.Equal(decimal.NewFromInt(3)))
		assert.True(t, dist.OrganizerShare.Equal(decimal.NewFromInt(27)))
		assert.Nil(t, dist.OrganizerWallet)
	})

	t.Run("unknown policy", func(t *testing.T) {
		f := newFixture(t)
		f.settler.UnorganizedRevenue = "charity"
		order := f.completedOrder(orphanEventID, 1)

		_, err := f.settler.Settle(f.ctx, order.ID)
		assert.ErrorIs(t, err, ErrRevenuePolicyBad)
	})
}

func TestSettle_ValidatesPlatformWallet(t *testing.T) {
	f := newFixture(t)
	f.settler.WalletPrefix = "tix"
	order := f.completedOrder(eventID, 1)

	_, err := f.settler.Settle(f.ctx, order.ID)
	require.ErrorIs(t, err, ErrConfigMissing)

	wallet, err := chain.EncodeAddress("tix", bytes.Repeat([]byte{0x03}, 33))
	require.NoError(t, err)
	f.store.SetConfig(models.ConfigPlatformWallet, wallet)
	dist, err := f.settler.Settle(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet, dist.PlatformWallet)
}

func TestSettle_RejectsAmbiguousFee(t *testing.T) {
	f := newFixture(t)
	order := f.completedOrder(eventID, 1)
	f.store.SetConfig(models.ConfigPlatformFeePercentage, "0.1")

	_, err := f.settler.Settle(f.ctx, order.ID)
	assert.ErrorIs(t, err, ErrFeeOutOfRange)

	f.store.SetConfig(models.ConfigPlatformFeePercentage, "0.5%")
	dist, err := f.settler.Settle(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.05", dist.PlatformShare.StringFixed(2))
}
