package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderMinting   OrderStatus = "MINTING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderFailed    OrderStatus = "FAILED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderFailed, OrderCancelled:
		return true
	}
	return false
}

type ListingStatus string

const (
	ListingActive    ListingStatus = "ACTIVE"
	ListingSold      ListingStatus = "SOLD"
	ListingCancelled ListingStatus = "CANCELLED"
)

type User struct {
	ID            string
	WalletAddress string
	CreatedAt     time.Time
}

type Organizer struct {
	ID            string
	UserID        string
	WalletAddress string
}

type Event struct {
	ID               string
	OrganizerID      *string
	Name             string
	TicketPrice      decimal.Decimal
	TicketsAvailable int
	TicketsSold      int
	StartsAt         time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Order struct {
	ID              string
	EventID         string
	UserID          string
	Quantity        int
	TotalPrice      decimal.Decimal
	Status          OrderStatus
	DepositAddress  *string
	DerivationIndex *int64
	TransactionHash *string
	NftMintAddress  *string
	ExpiresAt       time.Time
	PaidAt          *time.Time
	MintAttempts    int
	NextAttemptAt   *time.Time
	LastError       *string
	FailureReason   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Ticket struct {
	ID             string
	OrderID        string
	UnitIndex      int
	EventID        string
	OwnerID        string
	NftMintAddress string
	TokenID        string
	MintNonce      string
	MintTxHash     string
	MintConfirmed  bool
	IsValid        bool
	IsUsed         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Listing struct {
	ID              string
	TicketID        string
	NftMintAddress  string
	SellerID        string
	Price           decimal.Decimal
	OriginalPrice   decimal.Decimal
	Status          ListingStatus
	SoldTo          *string
	SoldAt          *time.Time
	CancelledAt     *time.Time
	SellerSignature string
	TransactionHash *string
	PendingBuyerID  *string
	PendingTxHash   *string
	PendingAttempts int
	NextCheckAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AwaitingConfirmation reports whether a sale transaction was submitted
// for the listing but the ledger has not finalized it yet.
func (l *Listing) AwaitingConfirmation() bool {
	return l.Status == ListingActive && l.PendingTxHash != nil
}

type PaymentDistribution struct {
	ID              string
	OrderID         string
	TotalAmount     decimal.Decimal
	OrganizerShare  decimal.Decimal
	PlatformShare   decimal.Decimal
	OrganizerWallet *string
	PlatformWallet  string
	TransactionHash *string
	CreatedAt       time.Time
}

type ResaleDistribution struct {
	ID              string
	ListingID       string
	TotalAmount     decimal.Decimal
	SellerShare     decimal.Decimal
	PlatformShare   decimal.Decimal
	SellerWallet    string
	PlatformWallet  string
	TransactionHash string
	CreatedAt       time.Time
}

const (
	ConfigPlatformFeePercentage = "platform_fee_percentage"
	ConfigPlatformWallet        = "platform_wallet"
	ConfigResaleFeePercentage   = "resale_fee_percentage"
)
