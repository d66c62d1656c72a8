package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"TicketMint/internal/app"
	"TicketMint/internal/chain"
	"TicketMint/internal/config"
	"TicketMint/internal/logging"
	"TicketMint/internal/queue"
	"TicketMint/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config yaml (default: $CONFIG_PATH or configs/config.yaml)")
	once := pflag.Bool("once", false, "run a single reconciliation pass and exit")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup failed: %v", err)
	}
	defer deps.Close()

	wsEndpoints := chain.WSEndpoints(cfg.Chain.WSEndpoints, cfg.Chain.RPCEndpoints)
	rec := &worker.Reconciler{
		Store:               deps.Store,
		Orders:              deps.Orders,
		Minter:              deps.Minter,
		Settler:             deps.Settler,
		Listings:            deps.Listings,
		Log:                 deps.Log.WithField("component", "reconciler"),
		Interval:            cfg.WorkerInterval(),
		BatchSize:           cfg.Worker.BatchSize,
		MaxAttempts:         cfg.Worker.MaxAttempts,
		BaseBackoff:         cfg.BaseBackoff(),
		MaxBackoff:          cfg.MaxBackoff(),
		WSEndpoints:         wsEndpoints,
		WSFailoverThreshold: cfg.Chain.RPCFailoverThreshold,
	}

	if *once {
		if err := rec.RunOnce(ctx); err != nil {
			logger.Fatalf("reconcile failed: %v", err)
		}
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec.Run(ctx)
		return nil
	})
	g.Go(func() error {
		rec.RunWS(ctx)
		return nil
	})

	if deps.Redis != nil {
		wmLogger := logging.NewWatermill(deps.Log.WithField("component", "router"))
		sub, err := queue.NewRedisSubscriber(deps.Redis, cfg.Redis.ConsumerGroup, wmLogger)
		if err != nil {
			logger.Fatalf("redis subscriber: %v", err)
		}
		router, err := worker.NewRouter(sub, worker.Handlers{
			Minter:   deps.Minter,
			Settler:  deps.Settler,
			Listings: deps.Listings,
			Log:      deps.Log.WithField("component", "router"),
		}, wmLogger)
		if err != nil {
			logger.Fatalf("router: %v", err)
		}
		g.Go(func() error {
			return router.Run(ctx)
		})
	}

	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Infof("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	logger.WithFields(logrus.Fields{
		"rpc":      cfg.Chain.RPCEndpoints,
		"ws":       wsEndpoints,
		"interval": rec.Interval,
		"tasks":    deps.Redis != nil,
	}).Info("worker started")

	if err := g.Wait(); err != nil {
		logger.Errorf("worker stopped: %v", err)
	}
}
