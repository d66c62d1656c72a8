package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAmount_TenPercentOfThirty(t *testing.T) {
	rate, err := RateFromPercentage("10")
	require.NoError(t, err)

	split, err := SplitAmount(decimal.NewFromInt(30), rate, 2)
	require.NoError(t, err)

	assert.True(t, split.Platform.Equal(decimal.NewFromInt(3)), split.Platform.String())
	assert.True(t, split.Remainder.Equal(decimal.NewFromInt(27)), split.Remainder.String())
}

func TestSplitAmount_SumsExactly(t *testing.T) {
	rates := []string{"0", "2.5", "7.333", "33.3333", "99.99", "100"}
	totals := []string{"0", "0.01", "0.03", "1", "19.99", "1234567.89", "0.005"}

	for _, r := range rates {
		rate, err := RateFromPercentage(r)
		require.NoError(t, err)
		for _, tot := range totals {
			total := decimal.RequireFromString(tot)
			split, err := SplitAmount(total, rate, 2)
			require.NoError(t, err)

			assert.True(t, split.Platform.Add(split.Remainder).Equal(total), "rate=%s total=%s", r, tot)
			assert.False(t, split.Platform.IsNegative(), "rate=%s total=%s", r, tot)
			assert.False(t, split.Remainder.IsNegative(), "rate=%s total=%s", r, tot)
		}
	}
}

func TestSplitAmount_RejectsBadInput(t *testing.T) {
	_, err := SplitAmount(decimal.NewFromInt(-1), decimal.Zero, 2)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = SplitAmount(decimal.NewFromInt(1), decimal.RequireFromString("1.5"), 2)
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}

func TestRateFromPercentage(t *testing.T) {
	rate, err := RateFromPercentage(" 2.5 ")
	require.NoError(t, err)
	assert.Equal(t, "0.025", rate.String())

	_, err = RateFromPercentage("101")
	assert.ErrorIs(t, err, ErrRateOutOfRange)

	_, err = RateFromPercentage("ten")
	assert.Error(t, err)

	_, err = RateFromPercentage("0.1")
	assert.ErrorIs(t, err, ErrAmbiguousRate)

	rate, err = RateFromPercentage("0.5%")
	require.NoError(t, err)
	assert.Equal(t, "0.005", rate.String())

	rate, err = RateFromPercentage("10%")
	require.NoError(t, err)
	assert.Equal(t, "0.1", rate.String())

	rate, err = RateFromPercentage("1")
	require.NoError(t, err)
	assert.Equal(t, "0.01", rate.String())
}

func TestUnitPrice(t *testing.T) {
	assert.Equal(t, "10", UnitPrice(decimal.NewFromInt(30), 3, 2).String())
	assert.Equal(t, "3.33", UnitPrice(decimal.NewFromInt(10), 3, 2).String())
	assert.True(t, UnitPrice(decimal.NewFromInt(10), 0, 2).IsZero())
	assert.Equal(t, "37.5", OrderTotal(decimal.RequireFromString("12.5"), 3).String())
}
