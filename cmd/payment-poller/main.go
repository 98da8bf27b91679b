// Package main содержит точку входа поллера неоплаченных счетов.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/vpn-shop/internal/app/poller"
	"github.com/magabrotheeeer/vpn-shop/internal/config"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, os.Stdout)

	logger.Info("starting payment-poller", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := poller.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize payment-poller", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("payment-poller stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("payment-poller stopped gracefully")
}
