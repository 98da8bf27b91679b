// Package poller собирает процесс payment-poller: опрос неоплаченных счетов
// и публикацию подтверждений в RabbitMQ.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-shop/internal/config"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/paymentprovider"
	"github.com/magabrotheeeer/vpn-shop/internal/rabbitmq"
	"github.com/magabrotheeeer/vpn-shop/internal/services/payment"
	pollerservice "github.com/magabrotheeeer/vpn-shop/internal/services/poller"
	"github.com/magabrotheeeer/vpn-shop/internal/storage/postgresql"
)

// App представляет приложение поллера.
type App struct {
	poller  *pollerservice.Service
	metrics *http.Server
	db      *postgresql.Storage
	conn    *amqp.Connection
	ch      *amqp.Channel
	logger  *slog.Logger
}

func waitForDB(ctx context.Context, db *postgresql.Storage) error {
	for range 10 {
		if err := postgresql.CheckDatabaseReady(ctx, db); err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения поллера.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.StorageDriver != "postgres" {
		return nil, fmt.Errorf("payment-poller requires postgres storage, got %q", cfg.StorageDriver)
	}

	db, err := postgresql.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(ctx, db); err != nil {
		closeResources(db, nil, nil, logger)
		return nil, err
	}

	conn, err := rabbitmq.Connect(ctx, logger, cfg.RabbitMQ.URL, rabbitmq.Backoff{
		Attempts: cfg.RabbitMQ.MaxRetries,
		Delay:    cfg.RabbitMQ.RetryDelay,
		MaxDelay: cfg.RabbitMQ.MaxRetryDelay,
	})
	if err != nil {
		closeResources(db, nil, nil, logger)
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.PaymentTopology())
	if err != nil {
		closeResources(db, nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Поллер только читает счета; подтверждение и выдачу выполняет vpn-shop.
	payments := payment.New(db, paymentprovider.NewClient(cfg.CryptoBot), nil, nil, m, payment.Config{
		Tariffs:    cfg.Tariffs,
		StaleAfter: cfg.Poller.ClaimStaleAfter,
	}, logger)

	publisher := rabbitmq.NewPublisher(ch, rabbitmq.ExchangePayments, rabbitmq.RoutingConfirmed)
	pollerService := pollerservice.New(payments, publisher, m, pollerservice.Config{
		Interval:   cfg.Poller.Interval,
		InvoiceTTL: cfg.Poller.InvoiceTTL,
		BatchSize:  cfg.Poller.BatchSize,
	}, logger)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &App{
		poller: pollerService,
		metrics: &http.Server{
			Addr:              cfg.Poller.MetricsAddress,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		db:     db,
		conn:   conn,
		ch:     ch,
		logger: logger,
	}, nil
}

func closeResources(db *postgresql.Storage, ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("failed to close storage", sl.Err(err))
		}
	}
}

// Run запускает поллер и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	go func() {
		a.logger.Info("metrics server starting on", slog.String("address", a.metrics.Addr))
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", sl.Err(err))
		}
	}()

	a.poller.Run(ctx)

	a.logger.Info("shutting down payment poller")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.metrics.Shutdown(timeoutCtx)
	closeResources(a.db, a.ch, a.conn, a.logger)
	return err
}
