package subscription

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-shop/internal/lock"
	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
	"github.com/magabrotheeeer/vpn-shop/internal/services/bonus"
	"github.com/magabrotheeeer/vpn-shop/internal/storage/memory"
)

// fakeGateway панель в памяти. block, если задан, задерживает UpsertClient
// до закрытия канала или отмены контекста; entered получает сигнал при
// входе в UpsertClient; onRead вызывается перед каждым GetExpiry.
type fakeGateway struct {
	mu         sync.Mutex
	clients    map[string]models.ClientRecord
	upserts    int
	failOn     map[int64]error
	readErr    error
	block      chan struct{}
	entered    chan struct{}
	onRead     func()
	reconciles int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{clients: make(map[string]models.ClientRecord), failOn: make(map[int64]error)}
}

func (g *fakeGateway) GetExpiry(_ context.Context, emailKey string) (int64, error) {
	if g.onRead != nil {
		g.onRead()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readErr != nil {
		return 0, g.readErr
	}
	c, ok := g.clients[emailKey]
	if !ok {
		return 0, models.ErrClientNotFound
	}
	return c.ExpiryTimestamp, nil
}

func (g *fakeGateway) UpsertClient(ctx context.Context, rec models.ClientRecord) error {
	g.mu.Lock()
	entered, block := g.entered, g.block
	g.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.upserts++
	if err, ok := g.failOn[rec.UserID]; ok {
		return err
	}
	g.clients[rec.EmailKey] = rec
	return nil
}

func (g *fakeGateway) SubscriptionURL(subscriptionID string) string {
	return "http://vpn.example.com:2096/sub/" + subscriptionID
}

func (g *fakeGateway) Reconcile(ctx context.Context, rec models.ClientRecord, fallback int64) (int64, error) {
	g.mu.Lock()
	g.reconciles++
	g.mu.Unlock()
	exp, err := g.GetExpiry(ctx, rec.EmailKey)
	if err != nil {
		exp = fallback
	}
	rec.ExpiryTimestamp = exp
	return exp, g.UpsertClient(ctx, rec)
}

func (g *fakeGateway) expiryOf(emailKey string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clients[emailKey].ExpiryTimestamp
}

func (g *fakeGateway) setExpiry(rec models.ClientRecord, expiry int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec.ExpiryTimestamp = expiry
	g.clients[rec.EmailKey] = rec
}

func (g *fakeGateway) upsertCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.upserts
}

type fakeMembership struct {
	member bool
	err    error
}

func (f fakeMembership) IsMember(context.Context, int64) (bool, error) {
	return f.member, f.err
}

type testEnv struct {
	engine  *Engine
	store   *memory.Storage
	gateway *fakeGateway
	lock    *lock.Memory
	ledger  *bonus.Ledger
	metrics *metrics.Metrics
	now     time.Time
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func setupEngine(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	return setupEngineWithConfig(t, Config{ReferralBonusDays: 7, GiftMonths: 0.1, StatusCacheTTL: time.Minute}, opts...)
}

func setupEngineWithConfig(t *testing.T, cfg Config, opts ...func(*Deps)) *testEnv {
	t.Helper()
	store := memory.New()
	gw := newFakeGateway()
	lk := lock.NewMemory()
	log := newNoopLogger()
	ledger := bonus.NewLedger(store, log)
	m := metrics.New(prometheus.NewRegistry())

	deps := Deps{
		Store:      store,
		Gateway:    gw,
		Ledger:     ledger,
		Gifts:      store,
		Membership: fakeMembership{member: true},
		Lock:       lk,
		Metrics:    m,
	}
	for _, o := range opts {
		o(&deps)
	}
	e := NewEngine(deps, cfg, log)
	e.now = func() time.Time { return testNow }

	return &testEnv{engine: e, store: store, gateway: gw, lock: lk, ledger: ledger, metrics: m, now: testNow}
}

// seedClient создаёт клиента и в хранилище, и в панели.
func (env *testEnv) seedClient(t *testing.T, userID, panelExpiry int64) models.ClientRecord {
	t.Helper()
	rec := models.ClientRecord{
		UserID:          userID,
		ClientUUID:      fmt.Sprintf("uuid-%d", userID),
		SubscriptionID:  fmt.Sprintf("sub-%d", userID),
		EmailKey:        fmt.Sprintf("email-%d", userID),
		ExpiryTimestamp: panelExpiry,
	}
	require.NoError(t, env.store.UpsertClient(context.Background(), rec))
	env.gateway.setExpiry(rec, panelExpiry)
	return rec
}

func (env *testEnv) expiryOf(t *testing.T, userID int64) int64 {
	t.Helper()
	rec, err := env.store.GetClient(context.Background(), userID)
	require.NoError(t, err)
	return rec.ExpiryTimestamp
}
