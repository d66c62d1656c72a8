// Package lease serializes ledger work per entity across worker processes.
// A lease is advisory: correctness still rests on idempotent ledger nonces
// and conditional store updates. It only keeps two workers from spending
// ledger calls on the same order at the same time.
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants short exclusive leases on string keys. release is nil when
// acquired is false.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

type Redis struct {
	Client redis.Cmdable
	TTL    time.Duration
	Prefix string
	// NewToken generates the owner token stored under the key.
	NewToken func() string
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{Client: client, TTL: ttl, Prefix: "lease:", NewToken: uuid.NewString}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), bool, error) {
	full := r.Prefix + key
	token := r.NewToken()
	ok, err := r.Client.SetNX(ctx, full, token, r.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Detached so a cancelled request still frees the lease.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = r.Client.Eval(ctx, releaseScript, []string{full}, token).Err()
	}
	return release, true, nil
}

// Local is an in-process Locker for single-worker deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: map[string]struct{}{}}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}
