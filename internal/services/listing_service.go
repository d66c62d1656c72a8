package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TicketMint/internal/chain"
	"TicketMint/internal/metrics"
	"TicketMint/internal/models"
	"TicketMint/internal/notify"
	"TicketMint/internal/payments"
	"TicketMint/internal/pricing"
	"TicketMint/internal/queue"
	"TicketMint/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ListingService struct {
	Store    store.Store
	Ledger   chain.Ledger
	Queue    queue.Publisher
	Notifier notify.Notifier
	Log      *logrus.Entry
	Places   int32
	// RecheckAfter is how long a submitted sale waits before the
	// reconciliation watcher looks at it.
	RecheckAfter time.Duration
	Now          func() time.Time
}

func (s ListingService) CreateListing(ctx context.Context, sellerID, ticketID string, price decimal.Decimal, signature string) (*models.Listing, error) {
	if sellerID == "" {
		return nil, ErrMissingUserID
	}
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if strings.TrimSpace(signature) == "" {
		return nil, ErrMissingSignature
	}

	var listing *models.Listing
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		ticket, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return notFound(err, ErrTicketNotFound)
		}
		if ticket.OwnerID != sellerID {
			return ErrNotTicketOwner
		}
		if !ticket.IsValid {
			return ErrTicketNotValid
		}
		if ticket.IsUsed {
			return ErrTicketUsed
		}
		if _, err := tx.Listings().GetActiveByMint(ctx, ticket.NftMintAddress); err == nil {
			return ErrAlreadyListed
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		order, err := tx.Orders().Get(ctx, ticket.OrderID)
		if err != nil {
			return err
		}

		listing = &models.Listing{
			ID:              uuid.NewString(),
			TicketID:        ticket.ID,
			NftMintAddress:  ticket.NftMintAddress,
			SellerID:        sellerID,
			Price:           price,
			OriginalPrice:   pricing.UnitPrice(order.TotalPrice, order.Quantity, s.Places),
			Status:          models.ListingActive,
			SellerSignature: signature,
			CreatedAt:       clock(s.Now),
		}
		err = tx.Listings().Create(ctx, listing)
		if errors.Is(err, store.ErrDuplicate) {
			return ErrAlreadyListed
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	logger(s.Log).WithFields(logrus.Fields{
		"listing_id": listing.ID,
		"ticket_id":  ticketID,
		"price":      price.String(),
	}).Info("listing created")
	return listing, nil
}

func (s ListingService) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	var listing *models.Listing
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		listing, err = tx.Listings().Get(ctx, listingID)
		return notFound(err, ErrListingNotFound)
	})
	return listing, err
}

// CancelListing withdraws an ACTIVE listing. A sale transaction already
// submitted for it is checked on the ledger first: unless it failed, the
// cancel is rejected. A sale the engine has not heard of yet can still
// complete later through FulfillListing if the ledger finalized it before
// the cancel time.
func (s ListingService) CancelListing(ctx context.Context, listingID, callerID string) (*models.Listing, error) {
	listing, err := s.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != callerID {
		return nil, ErrNotSeller
	}
	switch listing.Status {
	case models.ListingCancelled:
		return listing, nil
	case models.ListingSold:
		return nil, ErrListingAlreadySold
	}

	if listing.PendingTxHash != nil {
		info, err := s.Ledger.TransactionStatus(ctx, *listing.PendingTxHash)
		switch {
		case errors.Is(err, chain.ErrTxNotFound):
			return nil, ErrSaleInProgress
		case err != nil:
			return nil, fmt.Errorf("check pending sale: %w", err)
		case info.Status != chain.TxFailed:
			return nil, ErrSaleInProgress
		}
	}

	err = s.Store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.Listings().GetForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		switch current.Status {
		case models.ListingSold:
			return ErrListingAlreadySold
		case models.ListingCancelled:
			listing = current
			return nil
		}
		if !sameHash(current.PendingTxHash, listing.PendingTxHash) {
			return ErrSaleInProgress
		}
		if _, err := tx.Listings().Cancel(ctx, listingID, clock(s.Now)); err != nil {
			return err
		}
		listing, err = tx.Listings().Get(ctx, listingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger(s.Log).WithField("listing_id", listingID).Info("listing cancelled")
	return listing, nil
}

// FulfillListing records a resale once txHash is confirmed to have moved
// the listed NFT from seller to buyer for at least the listed price. The
// listing status, ownership change and optional resale split commit
// together. When two buyers race, the first confirmed transaction wins
// and the other gets ErrListingAlreadySold.
func (s ListingService) FulfillListing(ctx context.Context, listingID, buyerID, txHash string) (*models.Listing, error) {
	txHash = NormalizeHash(txHash)
	if txHash == "" {
		return nil, ErrMissingTxHash
	}
	if buyerID == "" {
		return nil, ErrMissingUserID
	}

	var listing *models.Listing
	var sellerWallet, buyerWallet string
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if listing, err = tx.Listings().Get(ctx, listingID); err != nil {
			return notFound(err, ErrListingNotFound)
		}
		seller, err := tx.Users().Get(ctx, listing.SellerID)
		if err != nil {
			return notFound(err, ErrUserNotFound)
		}
		buyer, err := tx.Users().Get(ctx, buyerID)
		if err != nil {
			return notFound(err, ErrUserNotFound)
		}
		sellerWallet, buyerWallet = seller.WalletAddress, buyer.WalletAddress
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay, done, err := settledOutcome(listing, buyerID, txHash); done {
		return replay, err
	}
	if listing.SellerID == buyerID {
		return nil, ErrSelfPurchase
	}

	tr, err := s.Ledger.GetTransfer(ctx, txHash)
	metrics.LedgerCalls.WithLabelValues("get_transfer", metrics.Outcome(err)).Inc()
	if err != nil {
		if errors.Is(err, chain.ErrTxNotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("lookup sale %s: %w", txHash, err)
	}
	status, err := payments.Verify(tr, payments.ForListing(listing, sellerWallet, buyerWallet))
	switch {
	case errors.Is(err, payments.ErrTxFailed):
		return nil, fmt.Errorf("%w: %v", ErrSaleFailed, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrPaymentMismatch, err)
	case status == chain.TxPending:
		if err := s.markPending(ctx, listingID, buyerID, txHash); err != nil {
			return nil, err
		}
		return nil, ErrSalePending
	}

	return s.finalize(ctx, listingID, buyerID, sellerWallet, txHash, tr)
}

// PurchaseListing submits the NFT transfer on the buyer's behalf and parks
// the listing as awaiting confirmation. The reconciliation watcher
// finishes the sale once the ledger confirms it.
func (s ListingService) PurchaseListing(ctx context.Context, listingID, buyerID string) (*models.Listing, error) {
	if buyerID == "" {
		return nil, ErrMissingUserID
	}
	var listing *models.Listing
	var sellerWallet, buyerWallet string
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if listing, err = tx.Listings().Get(ctx, listingID); err != nil {
			return notFound(err, ErrListingNotFound)
		}
		switch {
		case listing.Status == models.ListingSold:
			return ErrListingAlreadySold
		case listing.Status != models.ListingActive:
			return ErrListingNotActive
		case listing.PendingTxHash != nil:
			return ErrSaleInProgress
		case listing.SellerID == buyerID:
			return ErrSelfPurchase
		}
		seller, err := tx.Users().Get(ctx, listing.SellerID)
		if err != nil {
			return notFound(err, ErrUserNotFound)
		}
		buyer, err := tx.Users().Get(ctx, buyerID)
		if err != nil {
			return notFound(err, ErrUserNotFound)
		}
		sellerWallet, buyerWallet = seller.WalletAddress, buyer.WalletAddress
		return nil
	})
	if err != nil {
		return nil, err
	}

	txHash, err := s.Ledger.Transfer(ctx, listing.NftMintAddress, sellerWallet, buyerWallet, listing.Price)
	metrics.LedgerCalls.WithLabelValues("transfer", metrics.Outcome(err)).Inc()
	if err != nil {
		if chain.IsFinal(err) {
			return nil, fmt.Errorf("%w: %v", ErrSaleFailed, err)
		}
		return nil, fmt.Errorf("submit transfer: %w", err)
	}
	txHash = NormalizeHash(txHash)
	if err := s.markPending(ctx, listingID, buyerID, txHash); err != nil {
		return nil, err
	}
	if s.Queue != nil {
		task := queue.ListingTask{ListingID: listingID, TxHash: txHash}
		if err := s.Queue.Publish(ctx, queue.TopicListingSaleSubmitted, task); err != nil {
			logger(s.Log).WithError(err).Warn("enqueue sale check failed")
		}
	}
	return s.GetListing(ctx, listingID)
}

// ReconcileSale re-checks the pending sale transaction of a listing. It
// returns ErrSalePending while the ledger has not decided, clears the
// claim when the transaction failed, and finalizes the sale otherwise.
func (s ListingService) ReconcileSale(ctx context.Context, listingID string) (*models.Listing, error) {
	listing, err := s.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != models.ListingActive || listing.PendingTxHash == nil {
		return listing, nil
	}
	txHash, buyerID := *listing.PendingTxHash, *listing.PendingBuyerID

	tr, err := s.Ledger.GetTransfer(ctx, txHash)
	metrics.LedgerCalls.WithLabelValues("get_transfer", metrics.Outcome(err)).Inc()
	if errors.Is(err, chain.ErrTxNotFound) {
		return nil, ErrSalePending
	}
	if err != nil {
		return nil, fmt.Errorf("lookup sale %s: %w", txHash, err)
	}

	var sellerWallet, buyerWallet string
	err = s.Store.InTx(ctx, func(tx store.Tx) error {
		seller, err := tx.Users().Get(ctx, listing.SellerID)
		if err != nil {
			return err
		}
		buyer, err := tx.Users().Get(ctx, buyerID)
		if err != nil {
			return err
		}
		sellerWallet, buyerWallet = seller.WalletAddress, buyer.WalletAddress
		return nil
	})
	if err != nil {
		return nil, err
	}

	status, verr := payments.Verify(tr, payments.ForListing(listing, sellerWallet, buyerWallet))
	switch {
	case verr != nil:
		if err := s.ReleasePending(ctx, listingID, txHash); err != nil {
			return nil, err
		}
		if errors.Is(verr, payments.ErrTxFailed) {
			return nil, fmt.Errorf("%w: %v", ErrSaleFailed, verr)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentMismatch, verr)
	case status == chain.TxPending:
		return nil, ErrSalePending
	}
	return s.finalize(ctx, listingID, buyerID, sellerWallet, txHash, tr)
}

// ReleasePending drops the pending claim if it still belongs to txHash.
func (s ListingService) ReleasePending(ctx context.Context, listingID, txHash string) error {
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.Listings().GetForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		if current.PendingTxHash == nil || *current.PendingTxHash != txHash {
			return nil
		}
		return tx.Listings().ClearPendingSale(ctx, listingID)
	})
	if err == nil {
		logger(s.Log).WithFields(logrus.Fields{"listing_id": listingID, "tx": txHash}).Info("pending sale released")
	}
	return err
}

func (s ListingService) markPending(ctx context.Context, listingID, buyerID, txHash string) error {
	next := clock(s.Now).Add(s.RecheckAfter)
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.Listings().GetForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		if _, done, err := settledOutcome(current, buyerID, txHash); done {
			return err
		}
		if current.Status != models.ListingActive {
			return ErrListingNotActive
		}
		ok, err := tx.Listings().SetPendingSale(ctx, listingID, buyerID, txHash, next)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSaleInProgress
		}
		return nil
	})
}

func (s ListingService) finalize(ctx context.Context, listingID, buyerID, sellerWallet, txHash string, tr *chain.Transfer) (*models.Listing, error) {
	soldAt := tr.Timestamp
	if soldAt.IsZero() {
		soldAt = clock(s.Now)
	}

	var listing *models.Listing
	var resale *models.ResaleDistribution
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.Listings().GetForUpdate(ctx, listingID)
		if err != nil {
			return err
		}
		if replay, done, err := settledOutcome(current, buyerID, txHash); done {
			listing = replay
			return err
		}
		revived := false
		switch current.Status {
		case models.ListingActive:
		case models.ListingCancelled:
			if tr.Status != chain.TxConfirmed || current.CancelledAt == nil || soldAt.After(*current.CancelledAt) {
				return ErrListingNotActive
			}
			revived = true
		default:
			return ErrListingNotActive
		}

		ok, err := tx.Listings().MarkSold(ctx, listingID, buyerID, txHash, soldAt)
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrTxHashUsed
			}
			return err
		}
		if !ok {
			return ErrListingAlreadySold
		}
		moved, err := tx.Tickets().TransferOwnership(ctx, current.TicketID, current.SellerID, buyerID)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: ticket %s no longer owned by seller", ErrListingAlreadySold, current.TicketID)
		}
		if revived {
			// The seller may have relisted after cancelling; that listing
			// offers a ticket they no longer hold.
			if err := s.withdrawRelisting(ctx, tx, current); err != nil {
				return err
			}
			logger(s.Log).WithFields(logrus.Fields{"listing_id": listingID, "tx": txHash}).
				Warn("sale confirmed before cancellation; cancelled listing settled")
		}

		resale, err = s.resaleSplit(ctx, tx, current, sellerWallet, txHash)
		if err != nil {
			return err
		}
		if resale != nil {
			if _, err := tx.Distributions().InsertResale(ctx, resale); err != nil {
				return err
			}
		}
		listing, err = tx.Listings().Get(ctx, listingID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ListingsSold.Inc()
	log := logger(s.Log).WithFields(logrus.Fields{"listing_id": listingID, "tx": txHash})
	if resale != nil {
		log = log.WithField("platform_share", resale.PlatformShare.String())
	}
	log.Info("listing sold")
	if s.Notifier != nil {
		if err := s.Notifier.Notify(ctx, listing.SellerID, notify.Message{Type: notify.TypeTicketSold, ListingID: listingID}); err != nil {
			log.WithError(err).Warn("notify seller failed")
		}
		if err := s.Notifier.Notify(ctx, buyerID, notify.Message{Type: notify.TypeTicketBought, ListingID: listingID}); err != nil {
			log.WithError(err).Warn("notify buyer failed")
		}
	}
	return listing, nil
}

func (s ListingService) withdrawRelisting(ctx context.Context, tx store.Tx, sold *models.Listing) error {
	other, err := tx.Listings().GetActiveByMint(ctx, sold.NftMintAddress)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if other.ID == sold.ID {
		return nil
	}
	_, err = tx.Listings().Cancel(ctx, other.ID, clock(s.Now))
	return err
}

// resaleSplit returns nil unless resale_fee_percentage is configured.
func (s ListingService) resaleSplit(ctx context.Context, tx store.Tx, l *models.Listing, sellerWallet, txHash string) (*models.ResaleDistribution, error) {
	feeValue, err := optionalConfig(ctx, tx, models.ConfigResaleFeePercentage)
	if err != nil || feeValue == "" {
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
	split, err := pricing.SplitAmount(l.Price, rate, s.Places)
	if err != nil {
		return nil, err
	}
	return &models.ResaleDistribution{
		ID:              uuid.NewString(),
		ListingID:       l.ID,
		TotalAmount:     split.Total,
		SellerShare:     split.Remainder,
		PlatformShare:   split.Platform,
		SellerWallet:    sellerWallet,
		PlatformWallet:  platformWallet,
		TransactionHash: txHash,
		CreatedAt:       clock(s.Now),
	}, nil
}

// settledOutcome resolves requests against a listing that is already SOLD.
// done is false when the listing is still open for the request.
func settledOutcome(l *models.Listing, buyerID, txHash string) (*models.Listing, bool, error) {
	if l.Status != models.ListingSold {
		return nil, false, nil
	}
	if l.SoldTo != nil && *l.SoldTo == buyerID && l.TransactionHash != nil && *l.TransactionHash == txHash {
		return l, true, nil
	}
	return nil, true, ErrListingAlreadySold
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
