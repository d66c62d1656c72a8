package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MultiRPCClient spreads calls over several gateway endpoints, moving to
// the next one when the current endpoint keeps failing transiently.
type MultiRPCClient struct {
	clients       []*RPCClient
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiRPCClient(endpoints []string, failThreshold int, timeout time.Duration) (*MultiRPCClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*RPCClient, 0, len(list))
	for _, ep := range list {
		clients = append(clients, NewRPCClient(ep, timeout))
	}
	return &MultiRPCClient{
		clients:       clients,
		failThreshold: failThreshold,
	}, nil
}

func (m *MultiRPCClient) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index].baseURL
}

func (m *MultiRPCClient) LatestHeight(ctx context.Context) (int64, error) {
	return withFailover(ctx, m, func(c *RPCClient) (int64, error) {
		return c.LatestHeight(ctx)
	})
}

func (m *MultiRPCClient) Mint(ctx context.Context, req MintRequest) (*MintResult, error) {
	return withFailover(ctx, m, func(c *RPCClient) (*MintResult, error) {
		return c.Mint(ctx, req)
	})
}

func (m *MultiRPCClient) Transfer(ctx context.Context, mintAddress, from, to string, price decimal.Decimal) (string, error) {
	return withFailover(ctx, m, func(c *RPCClient) (string, error) {
		return c.Transfer(ctx, mintAddress, from, to, price)
	})
}

func (m *MultiRPCClient) TransactionStatus(ctx context.Context, txHash string) (*TxInfo, error) {
	return withFailover(ctx, m, func(c *RPCClient) (*TxInfo, error) {
		return c.TransactionStatus(ctx, txHash)
	})
}

func (m *MultiRPCClient) GetTransfer(ctx context.Context, txHash string) (*Transfer, error) {
	return withFailover(ctx, m, func(c *RPCClient) (*Transfer, error) {
		return c.GetTransfer(ctx, txHash)
	})
}

// withFailover tries each endpoint at most once. Only transient errors
// move on to the next endpoint; answers from the ledger are returned as is.
func withFailover[T any](ctx context.Context, m *MultiRPCClient, call func(*RPCClient) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempts := 0; attempts < len(m.clients); attempts++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		client, idx := m.currentClient()
		out, err := call(client)
		if err == nil {
			m.resetFailures(idx)
			return out, nil
		}
		if !IsTransient(err) {
			m.resetFailures(idx)
			return zero, err
		}
		lastErr = err
		m.noteFailure(idx)
		if m.shouldRotate() || len(m.clients) > 1 {
			m.rotate(idx)
		}
	}
	return zero, lastErr
}

func (m *MultiRPCClient) currentClient() (*RPCClient, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index], m.index
}

func (m *MultiRPCClient) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiRPCClient) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount++
	}
}

func (m *MultiRPCClient) shouldRotate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failCount >= m.failThreshold
}

// rotate advances past idx unless another goroutine already did.
func (m *MultiRPCClient) rotate(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != idx {
		return
	}
	m.index = (m.index + 1) % len(m.clients)
	m.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
