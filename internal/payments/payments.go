package payments

import (
	"errors"
	"fmt"
	"strings"

	"TicketMint/internal/chain"
	"TicketMint/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrWrongPayee  = errors.New("transfer recipient does not match")
	ErrWrongSender = errors.New("transfer sender does not match")
	ErrWrongAsset  = errors.New("transfer moves a different asset")
	ErrUnderpaid   = errors.New("transfer amount below expected")
	ErrTxFailed    = errors.New("transaction failed on ledger")
)

// Expectation is what a ledger transfer must satisfy to count as payment.
type Expectation struct {
	// Payees lists acceptable recipients; any match is enough.
	Payees []string
	// From, when set, must equal the sender.
	From string
	// MintAddress, when set, must equal the NFT moved by the transfer.
	MintAddress string
	Denom       string
	MinAmount   decimal.Decimal
}

// ForOrder builds the payment expectation of a primary sale. The order's
// deposit address is preferred; the platform wallet is the fallback payee.
func ForOrder(order *models.Order, platformWallet, denom string) Expectation {
	var payees []string
	if order.DepositAddress != nil && *order.DepositAddress != "" {
		payees = append(payees, *order.DepositAddress)
	}
	if platformWallet != "" {
		payees = append(payees, platformWallet)
	}
	return Expectation{Payees: payees, Denom: denom, MinAmount: order.TotalPrice}
}

// ForListing builds the expectation of a resale: the listed NFT moves from
// seller to buyer and at least the listed price is paid.
func ForListing(listing *models.Listing, sellerWallet, buyerWallet string) Expectation {
	return Expectation{
		Payees:      []string{buyerWallet},
		From:        sellerWallet,
		MintAddress: listing.NftMintAddress,
		MinAmount:   listing.Price,
	}
}

// Verify checks tr against exp. Shape mismatches are returned as errors
// regardless of finality; otherwise the transfer's status is returned and
// a failed transfer yields ErrTxFailed.
func Verify(tr *chain.Transfer, exp Expectation) (chain.TxStatus, error) {
	if tr == nil {
		return "", errors.New("nil transfer")
	}
	if !matchesAny(tr.To, exp.Payees) {
		return tr.Status, fmt.Errorf("%w: got %s", ErrWrongPayee, tr.To)
	}
	if exp.From != "" && !strings.EqualFold(tr.From, exp.From) {
		return tr.Status, fmt.Errorf("%w: got %s", ErrWrongSender, tr.From)
	}
	if exp.MintAddress != "" && tr.MintAddress != exp.MintAddress {
		return tr.Status, fmt.Errorf("%w: got %q", ErrWrongAsset, tr.MintAddress)
	}
	if exp.Denom != "" && tr.Denom != "" && tr.Denom != exp.Denom {
		return tr.Status, fmt.Errorf("%w: denom %s", ErrWrongAsset, tr.Denom)
	}
	if CompareAmount(tr.Amount, exp.MinAmount) < 0 {
		return tr.Status, fmt.Errorf("%w: got %s want %s", ErrUnderpaid, tr.Amount, exp.MinAmount)
	}
	if tr.Status == chain.TxFailed {
		if tr.Reason != "" {
			return tr.Status, fmt.Errorf("%w: %s", ErrTxFailed, tr.Reason)
		}
		return tr.Status, ErrTxFailed
	}
	return tr.Status, nil
}

func CompareAmount(a, b decimal.Decimal) int {
	return a.Cmp(b)
}

func matchesAny(addr string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(addr, c) {
			return true
		}
	}
	return false
}
