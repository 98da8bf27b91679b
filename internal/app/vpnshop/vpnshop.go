package vpnshop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-shop/internal/cache"
	"github.com/magabrotheeeer/vpn-shop/internal/config"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/health"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/lock"
	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/migrations"
	"github.com/magabrotheeeer/vpn-shop/internal/panel"
	"github.com/magabrotheeeer/vpn-shop/internal/panel/xui"
	"github.com/magabrotheeeer/vpn-shop/internal/paymentprovider"
	"github.com/magabrotheeeer/vpn-shop/internal/rabbitmq"
	"github.com/magabrotheeeer/vpn-shop/internal/services/bonus"
	"github.com/magabrotheeeer/vpn-shop/internal/services/payment"
	"github.com/magabrotheeeer/vpn-shop/internal/services/subscription"
	"github.com/magabrotheeeer/vpn-shop/internal/storage/memory"
	"github.com/magabrotheeeer/vpn-shop/internal/storage/postgresql"
	"github.com/magabrotheeeer/vpn-shop/internal/telegram"
)

// Store всё, что сервис хранит: клиенты, бонусы, подарки и счета.
type Store interface {
	subscription.ClientStore
	subscription.GiftStore
	bonus.Repository
	payment.InvoiceRepository
}

// App HTTP API магазина и консьюмер подтверждений оплаты.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	payments *payment.Service
	consumer rabbitmq.ConsumerOptions

	db    *postgresql.Storage
	cache *cache.Cache
	conn  *amqp.Connection
	ch    *amqp.Channel
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

// New собирает приложение по конфигу.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	if err := a.build(ctx, cfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	logger := a.logger

	var store Store
	switch cfg.StorageDriver {
	case "postgres":
		db, err := postgresql.New(cfg.StorageConnectionString)
		if err != nil {
			return fmt.Errorf("failed to connect storage: %w", err)
		}
		a.db = db
		if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		if err = waitForDB(ctx, db); err != nil {
			return err
		}
		store = db
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		store = memory.New()
	}

	var statusCache subscription.Cache
	redisCache, err := cache.InitServer(ctx, cfg.RedisConnection)
	switch {
	case err == nil:
		a.cache = redisCache
		statusCache = redisCache
	case cfg.Subscription.LockBackend == "redis":
		return fmt.Errorf("cache not initialized: %w", err)
	default:
		logger.Warn("redis unavailable, status cache disabled", sl.Err(err))
	}

	var userLock subscription.UserLock
	switch cfg.Subscription.LockBackend {
	case "redis":
		userLock = cache.NewUserLock(redisCache, cfg.Subscription.LockTTL)
	case "postgres":
		userLock = postgresql.NewUserLock(a.db, cfg.Subscription.LockTTL)
	default:
		userLock = lock.NewMemory()
	}

	gateways := make([]panel.Gateway, 0, len(cfg.Panels))
	for _, p := range cfg.Panels {
		client, err := xui.New(p, logger)
		if err != nil {
			return fmt.Errorf("failed to create panel client %s: %w", p.Name, err)
		}
		gateways = append(gateways, client)
	}
	panels, err := panel.NewGroup(logger, gateways...)
	if err != nil {
		return err
	}
	if err := panels.Authenticate(ctx); err != nil {
		// Сессия будет получена при первом обращении.
		logger.Warn("panel login failed at startup", sl.Err(err))
	}

	membership, err := telegram.New(cfg.Telegram, logger)
	if err != nil {
		return fmt.Errorf("failed to init telegram bot: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	ledger := bonus.NewLedger(store, logger)
	engine := subscription.NewEngine(subscription.Deps{
		Store:      store,
		Gateway:    panels,
		Ledger:     ledger,
		Gifts:      store,
		Membership: membership,
		Lock:       userLock,
		Cache:      statusCache,
		Metrics:    m,
	}, subscription.Config{
		ReferralBonusDays: cfg.Subscription.ReferralBonusDays,
		GiftMonths:        cfg.Subscription.GiftMonths,
		StatusCacheTTL:    cfg.Subscription.StatusCacheTTL,
		GrantTimeout:      cfg.Subscription.GrantTimeout,
	}, logger)

	a.payments = payment.New(store, paymentprovider.NewClient(cfg.CryptoBot), engine, ledger, m, payment.Config{
		Tariffs:    cfg.Tariffs,
		StaleAfter: cfg.Poller.ClaimStaleAfter,
	}, logger)

	if !cfg.RabbitMQ.Disabled {
		conn, err := rabbitmq.Connect(ctx, logger, cfg.RabbitMQ.URL, rabbitmq.Backoff{
			Attempts: cfg.RabbitMQ.MaxRetries,
			Delay:    cfg.RabbitMQ.RetryDelay,
			MaxDelay: cfg.RabbitMQ.MaxRetryDelay,
		})
		if err != nil {
			return fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		a.conn = conn
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.PaymentTopology())
		if err != nil {
			return fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		a.ch = ch
		a.consumer = rabbitmq.ConsumerOptions{
			Concurrency:  cfg.RabbitMQ.Concurrency,
			RequeueDelay: cfg.RabbitMQ.RequeueDelay,
		}
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Services{
		Engine:    engine,
		Ledger:    ledger,
		Payments:  a.payments,
		Tokens:    jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL),
		Gatherer:  registry,
		Checks:    a.checks(),
		RateLimit: cfg.HTTPServer.RateLimit,
		RateBurst: cfg.HTTPServer.RateBurst,
	})

	a.server = &http.Server{
		Addr:         cfg.HTTPServer.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.TimeoutHTTP,
		WriteTimeout: cfg.HTTPServer.TimeoutHTTP,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}
	return nil
}

func (a *App) checks() map[string]health.Checker {
	checks := map[string]health.Checker{}
	if a.db != nil {
		checks["postgres"] = func(ctx context.Context) error {
			return a.db.DB.PingContext(ctx)
		}
	}
	if a.cache != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.cache.Db.Ping(ctx).Err()
		}
	}
	if a.conn != nil {
		checks["rabbitmq"] = func(_ context.Context) error {
			if a.conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return checks
}

// Run запускает HTTP-сервер и консьюмер, останавливается по отмене ctx.
func (a *App) Run(ctx context.Context) error {
	if a.ch != nil {
		err := rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.QueueConfirmed, a.consumer, a.logger, a.payments.HandleConfirmed)
		if err != nil {
			a.close()
			return fmt.Errorf("failed to start %s consumer: %w", rabbitmq.QueueConfirmed, err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Db.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close storage", sl.Err(err))
		}
	}
}
