package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/metrics"
	"TicketMint/internal/models"
	"TicketMint/internal/pricing"
	"TicketMint/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Revenue policies for events without an organizer.
const (
	RevenueToPlatform  = "platform"
	RevenueUnallocated = "unallocated"
)

type Settler struct {
	Store store.Store
	Log   *logrus.Entry
	// Places is the number of decimal places the platform share is
	// rounded to.
	Places             int32
	UnorganizedRevenue string
	// WalletPrefix, when set, is the bech32 prefix the platform wallet
	// must carry.
	WalletPrefix string
	Now          func() time.Time
}

// Settle records the PaymentDistribution of a COMPLETED order. It is safe
// to call concurrently and repeatedly: the first insert wins and every
// caller gets the stored row back.
func (s Settler) Settle(ctx context.Context, orderID string) (*models.PaymentDistribution, error) {
	var dist *models.PaymentDistribution
	var created bool
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return notFound(err, ErrOrderNotFound)
		}
		if order.Status != models.OrderCompleted {
			return ErrOrderNotCompleted
		}
		if dist, err = tx.Distributions().GetByOrder(ctx, orderID); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		d, err := s.compute(ctx, tx, order)
		if err != nil {
			return err
		}
		created, err = tx.Distributions().InsertPayment(ctx, d)
		if err != nil {
			return err
		}
		if !created {
			dist, err = tx.Distributions().GetByOrder(ctx, orderID)
			return err
		}
		dist = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.Settlements.Inc()
		logger(s.Log).WithFields(logrus.Fields{
			"order_id":        orderID,
			"platform_share":  dist.PlatformShare.String(),
			"organizer_share": dist.OrganizerShare.String(),
		}).Info("order settled")
	}
	return dist, nil
}

func (s Settler) compute(ctx context.Context, tx store.Tx, order *models.Order) (*models.PaymentDistribution, error) {
	feeValue, err := tx.Config().Get(ctx, models.ConfigPlatformFeePercentage)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, models.ConfigPlatformFeePercentage)
		}
		return nil, err
	}
	rate, err := pricing.RateFromPercentage(feeValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeeOutOfRange, err)
	}
	platformWallet, err := optionalConfig(ctx, tx, models.ConfigPlatformWallet)
	if err != nil {
		return nil, err
	}
	if platformWallet == "" {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, models.ConfigPlatformWallet)
	}
	if s.WalletPrefix != "" {
		if err := chain.ValidateAddress(s.WalletPrefix, platformWallet); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigMissing, models.ConfigPlatformWallet, err)
		}
	}

	event, err := tx.Events().Get(ctx, order.EventID)
	if err != nil {
		return nil, notFound(err, ErrEventNotFound)
	}
	var organizerWallet *string
	if event.OrganizerID != nil {
		org, err := tx.Organizers().Get(ctx, *event.OrganizerID)
		if err != nil {
			return nil, fmt.Errorf("load organizer %s: %w", *event.OrganizerID, err)
		}
		organizerWallet = &org.WalletAddress
	} else {
		switch s.policy() {
		case RevenueToPlatform:
			rate = decimal.NewFromInt(1)
		case RevenueUnallocated:
		default:
			return nil, fmt.Errorf("%w: %q", ErrRevenuePolicyBad, s.UnorganizedRevenue)
		}
	}

	split, err := pricing.SplitAmount(order.TotalPrice, rate, s.Places)
	if err != nil {
		return nil, err
	}
	return &models.PaymentDistribution{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		TotalAmount:     split.Total,
		OrganizerShare:  split.Remainder,
		PlatformShare:   split.Platform,
		OrganizerWallet: organizerWallet,
		PlatformWallet:  platformWallet,
		TransactionHash: order.TransactionHash,
		CreatedAt:       clock(s.Now),
	}, nil
}

func (s Settler) policy() string {
	if s.UnorganizedRevenue == "" {
		return RevenueToPlatform
	}
	return s.UnorganizedRevenue
}
