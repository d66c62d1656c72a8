// Package app wires configuration into the store, ledger client, broker and
// services shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"

	"TicketMint/internal/chain"
	"TicketMint/internal/config"
	"TicketMint/internal/db"
	"TicketMint/internal/lease"
	"TicketMint/internal/logging"
	"TicketMint/internal/notify"
	"TicketMint/internal/queue"
	"TicketMint/internal/services"
	"TicketMint/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Dependencies struct {
	Config *config.Config
	Log    *logrus.Entry

	Pool      *db.Pool
	Store     store.Store
	Ledger    *chain.MultiRPCClient
	Redis     *redis.Client
	Publisher *queue.WatermillPublisher
	Queue     queue.Publisher
	Lease     lease.Locker
	Notifier  notify.Notifier

	Orders   services.OrderService
	Minter   services.Minter
	Settler  services.Settler
	Listings services.ListingService
	Tickets  services.TicketService
}

func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Log: logrus.NewEntry(logger)}

	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	d.Pool = pool
	d.Store = store.NewPostgres(pool)

	d.Ledger, err = chain.NewMultiRPCClient(cfg.Chain.RPCEndpoints, cfg.Chain.RPCFailoverThreshold, cfg.RequestTimeout())
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("ledger client: %w", err)
	}

	d.Queue = queue.Nop{}
	d.Lease = lease.NewLocal()
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis url: %w", err)
		}
		d.Redis = redis.NewClient(opts)
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.Publisher, err = queue.NewRedisPublisher(d.Redis, logging.NewWatermill(d.Log.WithField("component", "queue")))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis publisher: %w", err)
		}
		d.Queue = d.Publisher
		d.Lease = lease.NewRedis(d.Redis, cfg.LeaseTTL())
	} else {
		d.Log.Warn("redis not configured: tasks disabled, reconciler only")
	}

	if cfg.PubNub.PublishKey != "" {
		d.Notifier = notify.NewPubNub(cfg.PubNub.PublishKey, cfg.PubNub.SubscribeKey, cfg.PubNub.SecretKey, cfg.PubNub.UserID)
	} else {
		d.Notifier = notify.Log{Entry: d.Log.WithField("component", "notify")}
	}

	places := cfg.Settlement.CurrencyPlaces
	d.Orders = services.OrderService{
		Store:       d.Store,
		Ledger:      d.Ledger,
		Deriver:     chain.AddressDeriver{XPub: cfg.Wallet.XPub, Prefix: cfg.Chain.Bech32Prefix},
		Queue:       d.Queue,
		Notifier:    d.Notifier,
		Log:         d.Log.WithField("component", "orders"),
		MaxQuantity: cfg.Orders.MaxQuantity,
		TTL:         cfg.OrderTTL(),
		Denom:       cfg.Chain.Denom,
	}
	d.Settler = services.Settler{
		Store:              d.Store,
		Log:                d.Log.WithField("component", "settlement"),
		Places:             places,
		UnorganizedRevenue: cfg.Settlement.UnorganizedRevenue,
		WalletPrefix:       cfg.Chain.Bech32Prefix,
	}
	d.Minter = services.Minter{
		Store:    d.Store,
		Ledger:   d.Ledger,
		Orders:   d.Orders,
		Settler:  d.Settler,
		Lease:    d.Lease,
		Queue:    d.Queue,
		Notifier: d.Notifier,
		Log:      d.Log.WithField("component", "minter"),
	}
	d.Listings = services.ListingService{
		Store:        d.Store,
		Ledger:       d.Ledger,
		Queue:        d.Queue,
		Notifier:     d.Notifier,
		Log:          d.Log.WithField("component", "listings"),
		Places:       places,
		RecheckAfter: cfg.BaseBackoff(),
	}
	d.Tickets = services.TicketService{Store: d.Store, Log: d.Log.WithField("component", "tickets")}
	return d, nil
}

func (d *Dependencies) Close() {
	if d.Publisher != nil {
		if err := d.Publisher.Close(); err != nil {
			d.Log.WithError(err).Warn("close publisher")
		}
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
