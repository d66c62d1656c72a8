package services

import (
	"errors"

	"TicketMint/internal/chain"
	"TicketMint/internal/store"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInventory
	KindConflict
	KindNotFound
	KindLedgerTransient
	KindLedgerFinal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInventory:
		return "inventory"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindLedgerTransient:
		return "ledger_transient"
	case KindLedgerFinal:
		return "ledger_final"
	}
	return "internal"
}

// Error is a classified engine error. Instances below are sentinels;
// compare with errors.Is.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	ErrInvalidQuantity       = &Error{KindValidation, "invalid_quantity", "quantity out of range"}
	ErrMissingUserID         = &Error{KindValidation, "missing_user_id", "missing user id"}
	ErrMissingTxHash         = &Error{KindValidation, "missing_tx_hash", "missing transaction hash"}
	ErrInvalidPrice          = &Error{KindValidation, "invalid_price", "price must be positive"}
	ErrMissingSignature      = &Error{KindValidation, "missing_signature", "seller signature required"}
	ErrNotTicketOwner        = &Error{KindValidation, "not_ticket_owner", "caller does not own the ticket"}
	ErrNotSeller             = &Error{KindValidation, "not_seller", "only the seller may cancel the listing"}
	ErrSelfPurchase          = &Error{KindValidation, "self_purchase", "seller cannot buy their own listing"}
	ErrTicketNotValid        = &Error{KindValidation, "ticket_not_valid", "ticket is not valid"}
	ErrTicketUsed            = &Error{KindValidation, "ticket_used", "ticket already used"}
	ErrPaymentMismatch       = &Error{KindValidation, "payment_mismatch", "transaction does not satisfy the payment"}
	ErrFeeOutOfRange         = &Error{KindValidation, "fee_out_of_range", "fee percentage out of range"}
	ErrInsufficientInventory = &Error{KindInventory, "insufficient_inventory", "not enough tickets available"}

	ErrOrderNotCancellable = &Error{KindConflict, "order_not_cancellable", "order payment already confirmed"}
	ErrOrderNotPending     = &Error{KindConflict, "order_not_pending", "order is no longer awaiting payment"}
	ErrOrderNotMintable    = &Error{KindConflict, "order_not_mintable", "order is not ready for minting"}
	ErrOrderNotCompleted   = &Error{KindConflict, "order_not_completed", "order is not completed"}
	ErrTxHashUsed          = &Error{KindConflict, "tx_hash_used", "transaction already used for another payment"}
	ErrAlreadyListed       = &Error{KindConflict, "already_listed", "ticket already has an active listing"}
	ErrListingAlreadySold  = &Error{KindConflict, "listing_already_sold", "listing already sold"}
	ErrListingNotActive    = &Error{KindConflict, "listing_not_active", "listing is not active"}
	ErrSaleInProgress      = &Error{KindConflict, "sale_in_progress", "a sale transaction is already in flight"}
	ErrTicketListed        = &Error{KindConflict, "ticket_listed", "ticket has an active listing"}
	ErrMintInProgress      = &Error{KindConflict, "mint_in_progress", "another worker is minting this order"}

	ErrOrderNotFound    = &Error{KindNotFound, "order_not_found", "order not found"}
	ErrEventNotFound    = &Error{KindNotFound, "event_not_found", "event not found"}
	ErrUserNotFound     = &Error{KindNotFound, "user_not_found", "user not found"}
	ErrTicketNotFound   = &Error{KindNotFound, "ticket_not_found", "ticket not found"}
	ErrListingNotFound  = &Error{KindNotFound, "listing_not_found", "listing not found"}
	ErrTxNotFound       = &Error{KindLedgerTransient, "tx_not_found", "transaction not yet visible on ledger"}
	ErrPaymentPending   = &Error{KindLedgerTransient, "payment_pending", "payment transaction not final yet"}
	ErrMintPending      = &Error{KindLedgerTransient, "mint_pending", "mint transactions not final yet"}
	ErrSalePending      = &Error{KindLedgerTransient, "sale_pending", "sale transaction not final yet"}
	ErrPaymentFailed    = &Error{KindLedgerFinal, "payment_failed", "payment transaction failed on ledger"}
	ErrMintFailed       = &Error{KindLedgerFinal, "mint_failed", "mint rejected by ledger"}
	ErrSaleFailed       = &Error{KindLedgerFinal, "sale_failed", "sale transaction failed on ledger"}
	ErrConfigMissing    = &Error{KindInternal, "config_missing", "platform configuration missing"}
	ErrRevenuePolicyBad = &Error{KindInternal, "revenue_policy", "unknown unorganized revenue policy"}
)

// KindOf classifies err, looking through wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case chain.IsFinal(err):
		return KindLedgerFinal
	case chain.IsTransient(err), errors.Is(err, chain.ErrTxNotFound):
		return KindLedgerTransient
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrDuplicate):
		return KindConflict
	}
	return KindInternal
}

// Retryable reports whether the reconciliation watcher should retry err
// later rather than give up.
func Retryable(err error) bool {
	return KindOf(err) == KindLedgerTransient
}

func notFound(err error, sentinel *Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	return err
}
