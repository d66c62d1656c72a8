package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrRateOutOfRange = errors.New("fee rate must be within 0..1")
	// ErrAmbiguousRate rejects bare values below 1 such as "0.1", which
	// read equally well as a fraction (10%) or a percent (0.1%).
	ErrAmbiguousRate = errors.New("fee percentage below 1 is ambiguous, write it with a % suffix")
)

var hundred = decimal.NewFromInt(100)

// Split is a revenue split where Platform + Remainder == Total holds exactly.
type Split struct {
	Total     decimal.Decimal
	Platform  decimal.Decimal
	Remainder decimal.Decimal
}

// RateFromPercentage converts a PlatformConfig percentage such as "10",
// "2.5" or "0.5%" into a fraction. Values between 0 and 1 need the %
// suffix.
func RateFromPercentage(v string) (decimal.Decimal, error) {
	s := strings.TrimSpace(v)
	explicit := strings.HasSuffix(s, "%")
	pct, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(s, "%")))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse fee percentage %q: %w", v, err)
	}
	if !explicit && pct.IsPositive() && pct.LessThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrAmbiguousRate, v)
	}
	rate := pct.Div(hundred)
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, ErrRateOutOfRange
	}
	return rate, nil
}

// SplitAmount computes the platform cut as round(total*rate) at the given
// number of decimal places and gives the remainder by subtraction.
func SplitAmount(total, rate decimal.Decimal, places int32) (Split, error) {
	if total.IsNegative() {
		return Split{}, ErrNegativeAmount
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Split{}, ErrRateOutOfRange
	}
	platform := total.Mul(rate).Round(places)
	if platform.GreaterThan(total) {
		platform = total
	}
	return Split{
		Total:     total,
		Platform:  platform,
		Remainder: total.Sub(platform),
	}, nil
}

// OrderTotal is the price of quantity tickets at unit price.
func OrderTotal(unit decimal.Decimal, quantity int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(quantity)))
}

// UnitPrice is the per-ticket share of an order total, rounded to places.
func UnitPrice(total decimal.Decimal, quantity int, places int32) decimal.Decimal {
	if quantity <= 0 {
		return decimal.Zero
	}
	return total.DivRound(decimal.NewFromInt(int64(quantity)), places)
}
