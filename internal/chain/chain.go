package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Ledger is the contract the engine needs from the chain. Mint must be
// idempotent per nonce: repeating a nonce returns the original result.
type Ledger interface {
	Mint(ctx context.Context, req MintRequest) (*MintResult, error)
	Transfer(ctx context.Context, mintAddress, from, to string, price decimal.Decimal) (string, error)
	TransactionStatus(ctx context.Context, txHash string) (*TxInfo, error)
	GetTransfer(ctx context.Context, txHash string) (*Transfer, error)
}

type MintMetadata struct {
	EventID   string `json:"event_id"`
	OrderID   string `json:"order_id"`
	UnitIndex int    `json:"unit_index"`
	Name      string `json:"name"`
}

type MintRequest struct {
	Nonce     string       `json:"nonce"`
	Recipient string       `json:"recipient"`
	Metadata  MintMetadata `json:"metadata"`
}

type MintResult struct {
	MintAddress string `json:"mint_address"`
	TokenID     string `json:"token_id"`
	TxHash      string `json:"tx_hash"`
}

type TxInfo struct {
	Hash      string
	Status    TxStatus
	Height    int64
	Timestamp time.Time
	Reason    string
}

// Transfer describes a settled or in-flight movement on the ledger. For
// NFT transfers MintAddress is set; for coin payments it is empty.
type Transfer struct {
	TxHash      string
	MintAddress string
	From        string
	To          string
	Amount      decimal.Decimal
	Denom       string
	Status      TxStatus
	Height      int64
	Timestamp   time.Time
	Reason      string
}

var ErrTxNotFound = errors.New("transaction not found")

// TransientError wraps failures worth retrying: timeouts, unreachable
// nodes, rate limiting, 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// FinalError is a ledger rejection that will not change on retry.
type FinalError struct {
	Op     string
	Reason string
}

func (e *FinalError) Error() string { return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason) }

func IsTransient(err error) bool {
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func IsFinal(err error) bool {
	var f *FinalError
	return errors.As(err, &f)
}

var mintNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:ticketmint:mint"))

// MintNonce is the deterministic ledger nonce for one unit of an order.
func MintNonce(orderID string, unit int) string {
	return uuid.NewSHA1(mintNamespace, []byte(fmt.Sprintf("%s:%d", orderID, unit))).String()
}
