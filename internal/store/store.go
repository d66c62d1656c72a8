package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TicketMint/internal/models"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("duplicate")
	ErrConstraint = errors.New("constraint violated")
)

// CheckCreated rejects a zero creation time. Inserts write created_at as
// given, so a zero value would be stored instead of the column default.
func CheckCreated(table string, t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("%w: %s.created_at is required", ErrConstraint, table)
	}
	return nil
}

// Store runs units of work. Everything fn does through tx commits or rolls
// back together. Implementations must not call out to the ledger while a
// transaction is open; callers are expected to keep fn short.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	NextDerivationIndex(ctx context.Context) (int64, error)
}

type Tx interface {
	Users() UserRepo
	Organizers() OrganizerRepo
	Events() EventRepo
	Orders() OrderRepo
	Tickets() TicketRepo
	Listings() ListingRepo
	Distributions() DistributionRepo
	Config() ConfigRepo
}

type UserRepo interface {
	Get(ctx context.Context, id string) (*models.User, error)
}

type OrganizerRepo interface {
	Get(ctx context.Context, id string) (*models.Organizer, error)
}

type EventRepo interface {
	Get(ctx context.Context, id string) (*models.Event, error)
	// GetForUpdate locks the event row until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Event, error)
	// AdjustInventory adds the deltas to ticketsAvailable and ticketsSold.
	// A result below zero fails with ErrConstraint.
	AdjustInventory(ctx context.Context, id string, availableDelta, soldDelta int) error
}

type OrderRepo interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	GetForUpdate(ctx context.Context, id string) (*models.Order, error)
	FindByTxHash(ctx context.Context, txHash string) (*models.Order, error)
	// Transition moves the order to `to` only if its current status is one
	// of `from`. It reports whether a row changed.
	Transition(ctx context.Context, id string, from []models.OrderStatus, to models.OrderStatus, reason *string) (bool, error)
	// MarkPaid moves a PENDING order to PAID and records the payment. The
	// order is due for minting right away; paidAt is ledger time and is not
	// used for scheduling.
	MarkPaid(ctx context.Context, id, txHash string, paidAt time.Time) (bool, error)
	// Complete moves a MINTING order to COMPLETED.
	Complete(ctx context.Context, id, nftMintAddress string) (bool, error)
	RecordAttempt(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	// ListDue returns orders in one of statuses whose next attempt is due.
	ListDue(ctx context.Context, statuses []models.OrderStatus, now time.Time, limit int) ([]*models.Order, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
	ListCompletedUnsettled(ctx context.Context, limit int) ([]*models.Order, error)
}

type TicketRepo interface {
	// Insert is a no-op when the order already has a ticket for the unit.
	Insert(ctx context.Context, ticket *models.Ticket) (bool, error)
	Get(ctx context.Context, id string) (*models.Ticket, error)
	GetForUpdate(ctx context.Context, id string) (*models.Ticket, error)
	ListByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error)
	FindByMintTx(ctx context.Context, txHash string) (*models.Ticket, error)
	MarkMintConfirmed(ctx context.Context, id string) error
	SetValidityForOrder(ctx context.Context, orderID string, valid bool) (int64, error)
	// TransferOwnership changes the owner only if it is still `from`.
	TransferOwnership(ctx context.Context, id, from, to string) (bool, error)
	// MarkUsed flips isUsed for a valid, unused ticket.
	MarkUsed(ctx context.Context, id string) (bool, error)
}

type ListingRepo interface {
	// Create fails with ErrDuplicate when the mint already has an ACTIVE listing.
	Create(ctx context.Context, listing *models.Listing) error
	Get(ctx context.Context, id string) (*models.Listing, error)
	GetForUpdate(ctx context.Context, id string) (*models.Listing, error)
	GetActiveByMint(ctx context.Context, nftMintAddress string) (*models.Listing, error)
	FindByPendingTx(ctx context.Context, txHash string) (*models.Listing, error)
	// MarkSold moves a listing to SOLD and clears any pending claim. The
	// listing must be ACTIVE, or CANCELLED no earlier than soldAt: a sale
	// final on the ledger before the cancel was recorded still wins.
	MarkSold(ctx context.Context, id, buyerID, txHash string, soldAt time.Time) (bool, error)
	Cancel(ctx context.Context, id string, at time.Time) (bool, error)
	// SetPendingSale records a submitted sale on an ACTIVE listing that has
	// no other pending claim.
	SetPendingSale(ctx context.Context, id, buyerID, txHash string, nextCheck time.Time) (bool, error)
	ClearPendingSale(ctx context.Context, id string) error
	RecordPendingAttempt(ctx context.Context, id string, attempts int, next time.Time) error
	ListPendingSales(ctx context.Context, now time.Time, limit int) ([]*models.Listing, error)
}

type DistributionRepo interface {
	// InsertPayment is a no-op when the order already has a distribution.
	InsertPayment(ctx context.Context, d *models.PaymentDistribution) (bool, error)
	GetByOrder(ctx context.Context, orderID string) (*models.PaymentDistribution, error)
	InsertResale(ctx context.Context, d *models.ResaleDistribution) (bool, error)
	GetByListing(ctx context.Context, listingID string) (*models.ResaleDistribution, error)
}

type ConfigRepo interface {
	Get(ctx context.Context, key string) (string, error)
}
