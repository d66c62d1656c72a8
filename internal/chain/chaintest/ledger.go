// Package chaintest provides an in-memory Ledger whose behaviour tests
// can script: mint failures, pending or failed finality, and arbitrary
// transfers.
package chaintest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"TicketMint/internal/chain"

	"github.com/shopspring/decimal"
)

type Ledger struct {
	mu sync.Mutex

	// MintStatus is the finality assigned to new mint transactions.
	// Defaults to confirmed.
	MintStatus chain.TxStatus
	// MintErr, when set, is consulted before every mint. Returning an
	// error fails that call without recording a mint.
	MintErr func(req chain.MintRequest) error
	// TransferStatus is the finality assigned to transfers made through
	// Transfer. Defaults to pending.
	TransferStatus chain.TxStatus
	// Now stamps block times. Defaults to the wall clock.
	Now func() time.Time

	mints     map[string]*chain.MintResult
	txs       map[string]*chain.TxInfo
	transfers map[string]*chain.Transfer
	seq       int

	MintCalls     int
	TransferCalls int
}

func New() *Ledger {
	return &Ledger{
		mints:     map[string]*chain.MintResult{},
		txs:       map[string]*chain.TxInfo{},
		transfers: map[string]*chain.Transfer{},
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) Mint(ctx context.Context, req chain.MintRequest) (*chain.MintResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.MintCalls++

	if res, ok := l.mints[req.Nonce]; ok {
		out := *res
		return &out, nil
	}
	if l.MintErr != nil {
		if err := l.MintErr(req); err != nil {
			return nil, err
		}
	}
	l.seq++
	res := &chain.MintResult{
		MintAddress: fmt.Sprintf("mint-%04d", l.seq),
		TokenID:     fmt.Sprintf("%d", l.seq),
		TxHash:      fmt.Sprintf("MINTTX%04d", l.seq),
	}
	status := l.MintStatus
	if status == "" {
		status = chain.TxConfirmed
	}
	l.mints[req.Nonce] = res
	l.txs[res.TxHash] = &chain.TxInfo{Hash: res.TxHash, Status: status, Height: int64(l.seq), Timestamp: l.now()}
	out := *res
	return &out, nil
}

func (l *Ledger) Transfer(ctx context.Context, mintAddress, from, to string, price decimal.Decimal) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.TransferCalls++
	l.seq++
	hash := fmt.Sprintf("XFERTX%04d", l.seq)
	status := l.TransferStatus
	if status == "" {
		status = chain.TxPending
	}
	l.putTransferLocked(&chain.Transfer{
		TxHash:      hash,
		MintAddress: mintAddress,
		From:        from,
		To:          to,
		Amount:      price,
		Status:      status,
		Height:      int64(l.seq),
		Timestamp:   l.now(),
	})
	return hash, nil
}

func (l *Ledger) TransactionStatus(ctx context.Context, txHash string) (*chain.TxInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.txs[strings.ToUpper(txHash)]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	out := *info
	return &out, nil
}

func (l *Ledger) GetTransfer(ctx context.Context, txHash string) (*chain.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tr, ok := l.transfers[strings.ToUpper(txHash)]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	out := *tr
	return &out, nil
}

// PutTransfer registers a transfer (payment or NFT move) made outside the
// engine, as a buyer's wallet would.
func (l *Ledger) PutTransfer(tr chain.Transfer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tr.TxHash = strings.ToUpper(tr.TxHash)
	if tr.Timestamp.IsZero() {
		tr.Timestamp = l.now()
	}
	l.putTransferLocked(&tr)
}

func (l *Ledger) putTransferLocked(tr *chain.Transfer) {
	l.transfers[tr.TxHash] = tr
	l.txs[tr.TxHash] = &chain.TxInfo{Hash: tr.TxHash, Status: tr.Status, Height: tr.Height, Timestamp: tr.Timestamp, Reason: tr.Reason}
}

// SetStatus changes the finality of a known transaction.
func (l *Ledger) SetStatus(txHash string, status chain.TxStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	txHash = strings.ToUpper(txHash)
	if info, ok := l.txs[txHash]; ok {
		info.Status = status
	}
	if tr, ok := l.transfers[txHash]; ok {
		tr.Status = status
	}
}

// Mints returns the number of distinct nonces minted.
func (l *Ledger) Mints() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.mints)
}

// MintTxs returns the tx hashes of all mints.
func (l *Ledger) MintTxs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.mints))
	for _, m := range l.mints {
		out = append(out, m.TxHash)
	}
	return out
}

var _ chain.Ledger = (*Ledger)(nil)
