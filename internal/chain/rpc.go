package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RPCClient talks to a single ledger gateway endpoint.
type RPCClient struct {
	baseURL string
	client  *http.Client
}

func NewRPCClient(baseURL string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *RPCClient) LatestHeight(ctx context.Context) (int64, error) {
	var resp statusResponse
	if err := c.doJSON(ctx, "status", http.MethodGet, c.baseURL+"/status", nil, &resp); err != nil {
		return 0, err
	}
	return parseInt64(resp.Result.SyncInfo.LatestBlockHeight)
}

func (c *RPCClient) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	var resp MintResult
	if err := c.doJSON(ctx, "mint", http.MethodPost, c.baseURL+"/mint", req, &resp); err != nil {
		return nil, err
	}
	if resp.MintAddress == "" || resp.TxHash == "" {
		return nil, &TransientError{Op: "mint", Err: errors.New("incomplete mint response")}
	}
	resp.TxHash = strings.ToUpper(resp.TxHash)
	return &resp, nil
}

func (c *RPCClient) Transfer(ctx context.Context, mintAddress, from, to string, price decimal.Decimal) (string, error) {
	body := transferRequest{MintAddress: mintAddress, From: from, To: to, Price: price}
	var resp struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.doJSON(ctx, "transfer", http.MethodPost, c.baseURL+"/transfer", body, &resp); err != nil {
		return "", err
	}
	if resp.TxHash == "" {
		return "", &TransientError{Op: "transfer", Err: errors.New("empty tx hash")}
	}
	return strings.ToUpper(resp.TxHash), nil
}

func (c *RPCClient) TransactionStatus(ctx context.Context, txHash string) (*TxInfo, error) {
	var resp rpcTx
	endpoint := c.baseURL + "/tx/" + url.PathEscape(txHash)
	if err := c.doJSON(ctx, "tx status", http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.info()
}

func (c *RPCClient) GetTransfer(ctx context.Context, txHash string) (*Transfer, error) {
	var resp rpcTransfer
	endpoint := c.baseURL + "/tx/" + url.PathEscape(txHash) + "/transfer"
	if err := c.doJSON(ctx, "tx transfer", http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	info, err := resp.rpcTx.info()
	if err != nil {
		return nil, err
	}
	return &Transfer{
		TxHash:      info.Hash,
		MintAddress: resp.MintAddress,
		From:        resp.From,
		To:          resp.To,
		Amount:      resp.Amount,
		Denom:       resp.Denom,
		Status:      info.Status,
		Height:      info.Height,
		Timestamp:   info.Timestamp,
		Reason:      info.Reason,
	}, nil
}

func (c *RPCClient) doJSON(ctx context.Context, op, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(b))
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrTxNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &TransientError{Op: op, Err: fmt.Errorf("rpc http status %d: %s", resp.StatusCode, msg)}
		default:
			if msg == "" {
				msg = fmt.Sprintf("rpc http status %d", resp.StatusCode)
			}
			return &FinalError{Op: op, Reason: msg}
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func parseInt64(v string) (int64, error) {
	if v == "" {
		return 0, errors.New("empty int string")
	}
	return strconv.ParseInt(v, 10, 64)
}

func parseStatus(v string) (TxStatus, error) {
	switch TxStatus(strings.ToLower(v)) {
	case TxPending:
		return TxPending, nil
	case TxConfirmed:
		return TxConfirmed, nil
	case TxFailed:
		return TxFailed, nil
	}
	return "", fmt.Errorf("unknown tx status %q", v)
}

// RPC request/response types

type statusResponse struct {
	Result struct {
		SyncInfo struct {
			LatestBlockHeight string `json:"latest_block_height"`
		} `json:"sync_info"`
	} `json:"result"`
}

type transferRequest struct {
	MintAddress string          `json:"mint_address"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Price       decimal.Decimal `json:"price"`
}

type rpcTx struct {
	Hash      string `json:"hash"`
	Status    string `json:"status"`
	Height    string `json:"height"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
}

func (t rpcTx) info() (*TxInfo, error) {
	status, err := parseStatus(t.Status)
	if err != nil {
		return nil, &TransientError{Op: "tx status", Err: err}
	}
	var height int64
	if t.Height != "" {
		height, err = parseInt64(t.Height)
		if err != nil {
			return nil, &TransientError{Op: "tx status", Err: err}
		}
	}
	ts, _ := time.Parse(time.RFC3339, t.Timestamp)
	return &TxInfo{
		Hash:      strings.ToUpper(t.Hash),
		Status:    status,
		Height:    height,
		Timestamp: ts,
		Reason:    t.Error,
	}, nil
}

type rpcTransfer struct {
	rpcTx
	MintAddress string          `json:"mint_address"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Denom       string          `json:"denom"`
}
