package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"TicketMint/internal/app"
	"TicketMint/internal/config"
	internalhttp "TicketMint/internal/http"
	"TicketMint/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config yaml (default: $CONFIG_PATH or configs/config.yaml)")
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

	h := internalhttp.NewHandler(deps.Orders, deps.Listings, deps.Tickets, deps.Log.WithField("component", "http"))
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("api listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
}
