package subscription

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/expiry"
	"github.com/magabrotheeeer/vpn-shop/internal/metrics"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

const sevenDays = 7 * expiry.DayMillis

func TestGrant_NewUser(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	url, err := env.engine.Grant(ctx, GrantRequest{UserID: 42, Months: 1})
	require.NoError(t, err)

	rec, err := env.store.GetClient(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, testNow.UnixMilli()+30*expiry.DayMillis, rec.ExpiryTimestamp)
	assert.Len(t, rec.SubscriptionID, 16)
	assert.Len(t, rec.EmailKey, 12)
	assert.NotEmpty(t, rec.ClientUUID)
	assert.True(t, strings.HasSuffix(url, "/sub/"+rec.SubscriptionID))
	assert.Equal(t, rec.ExpiryTimestamp, env.gateway.expiryOf(rec.EmailKey))
}

func TestGrant_IdentifiersAreUnique(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 1, Months: 1})
	require.NoError(t, err)
	_, err = env.engine.Grant(ctx, GrantRequest{UserID: 2, Months: 1})
	require.NoError(t, err)

	a, _ := env.store.GetClient(ctx, 1)
	b, _ := env.store.GetClient(ctx, 2)
	assert.NotEqual(t, a.ClientUUID, b.ClientUUID)
	assert.NotEqual(t, a.SubscriptionID, b.SubscriptionID)
	assert.NotEqual(t, a.EmailKey, b.EmailKey)
}

func TestGrant_ExtensionIsAdditive(t *testing.T) {
	tests := []struct {
		name        string
		panelExpiry int64
	}{
		{name: "active subscription", panelExpiry: testNow.UnixMilli() + 5*expiry.DayMillis},
		{name: "expired subscription is not reset to now", panelExpiry: testNow.UnixMilli() - 100*expiry.DayMillis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEngine(t)
			ctx := context.Background()
			env.seedClient(t, 7, tt.panelExpiry)

			_, err := env.engine.Grant(ctx, GrantRequest{UserID: 7, Months: 2})
			require.NoError(t, err)
			assert.Equal(t, tt.panelExpiry+60*expiry.DayMillis, env.expiryOf(t, 7))

			_, err = env.engine.Grant(ctx, GrantRequest{UserID: 7, Months: 0.5})
			require.NoError(t, err)
			assert.Equal(t, tt.panelExpiry+75*expiry.DayMillis, env.expiryOf(t, 7))
		})
	}
}

func TestGrant_PanelIsAuthoritative(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	rec := env.seedClient(t, 7, 1_000)
	env.gateway.setExpiry(rec, 50_000)

	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 7, Months: 1})
	require.NoError(t, err)
	assert.Equal(t, 50_000+30*expiry.DayMillis, env.expiryOf(t, 7))
}

func TestGrant_ClientMissingOnPanelUsesCachedExpiry(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	rec := models.ClientRecord{UserID: 9, ClientUUID: "u", SubscriptionID: "s", EmailKey: "e", ExpiryTimestamp: 10_000}
	require.NoError(t, env.store.UpsertClient(ctx, rec))

	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 9, Months: 1})
	require.NoError(t, err)
	assert.Equal(t, 10_000+30*expiry.DayMillis, env.gateway.expiryOf("e"))
}

func TestGrant_ProvisioningFailureLeavesStoreUntouched(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.gateway.failOn[42] = models.ErrProvisioning

	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 42, Months: 1})
	require.ErrorIs(t, err, models.ErrProvisioning)

	exists, err := env.store.ClientExists(ctx, 42)
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, _ := env.lock.TryAcquire(ctx, 42)
	assert.True(t, ok, "lock is released on error")
}

func TestGrant_PanelReadFailure(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.seedClient(t, 3, 1_000)
	env.gateway.readErr = models.ErrProvisioning

	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 3, Months: 1})
	require.ErrorIs(t, err, models.ErrProvisioning)
	assert.Equal(t, int64(1_000), env.expiryOf(t, 3))
}

func TestGrant_InvalidRequests(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 1, Months: 0})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = env.engine.Grant(ctx, GrantRequest{UserID: 1, Months: 1, Paid: true})
	assert.ErrorIs(t, err, models.ErrInvoiceRequired)

	_, err = env.engine.GrantDays(ctx, 1, 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	assert.Equal(t, 0, env.gateway.upsertCount())
}

func TestGrantDays(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	_, err := env.engine.GrantDays(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, testNow.UnixMilli()+10*expiry.DayMillis, env.expiryOf(t, 5))
}

func TestGrant_LockContention(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	env.gateway.entered = make(chan struct{}, 1)
	env.gateway.block = make(chan struct{})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = env.engine.Grant(ctx, GrantRequest{UserID: 42, Months: 1})
	}()

	select {
	case <-env.gateway.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first grant did not reach the panel")
	}

	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 42, Months: 1})
	require.ErrorIs(t, err, models.ErrLockContention)

	env.gateway.mu.Lock()
	env.gateway.entered = nil
	env.gateway.mu.Unlock()
	close(env.gateway.block)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, 1, env.gateway.upsertCount(), "contended call performs no provisioning")
	assert.Equal(t, testNow.UnixMilli()+30*expiry.DayMillis, env.expiryOf(t, 42))
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.Grants.WithLabelValues(kindFree, metrics.ResultBusy)), 0)
}

func TestGrant_StuckPanelIsBoundedByGrantTimeout(t *testing.T) {
	env := setupEngineWithConfig(t, Config{
		ReferralBonusDays: 7,
		GiftMonths:        0.1,
		StatusCacheTTL:    time.Minute,
		GrantTimeout:      50 * time.Millisecond,
	})
	ctx := context.Background()
	env.gateway.block = make(chan struct{})
	defer close(env.gateway.block)

	start := time.Now()
	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 42, Months: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	exists, err := env.store.ClientExists(ctx, 42)
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, _ := env.lock.TryAcquire(ctx, 42)
	assert.True(t, ok, "lock is released after the deadline")
}

func TestGrant_ConcurrentSameUser(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.seedClient(t, 1, testNow.UnixMilli())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, busy int
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Grant(ctx, GrantRequest{UserID: 1, Months: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrLockContention):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, ok+busy)
	assert.Equal(t, ok, env.gateway.upsertCount())
	assert.Equal(t, testNow.UnixMilli()+int64(ok)*30*expiry.DayMillis, env.expiryOf(t, 1),
		"every successful grant is applied exactly once")
}

func TestGrant_PaidCascadesToReferrer(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	referrerBefore := testNow.UnixMilli() + expiry.DayMillis
	env.seedClient(t, 1, referrerBefore)
	_, err := env.ledger.RecordReferral(ctx, 1, 100)
	require.NoError(t, err)

	_, err = env.engine.GrantPaid(ctx, 100, 1, 100, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, referrerBefore+sevenDays, env.expiryOf(t, 1))

	_, err = env.engine.GrantPaid(ctx, 100, 1, 100, "inv-1")
	require.NoError(t, err, "duplicate invoice is not surfaced as a failure")
	assert.Equal(t, referrerBefore+sevenDays, env.expiryOf(t, 1), "no second cascade")
	assert.Equal(t, 1, env.store.PaidMarks())
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.DuplicateInvoices), 0)
}

func TestGrant_CascadeIsOneLevel(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	aBefore := testNow.UnixMilli()
	bBefore := testNow.UnixMilli()
	env.seedClient(t, 1, aBefore) // A
	env.seedClient(t, 2, bBefore) // B
	_, err := env.ledger.RecordReferral(ctx, 1, 2)
	require.NoError(t, err)
	_, err = env.ledger.RecordReferral(ctx, 2, 3)
	require.NoError(t, err)

	_, err = env.engine.GrantPaid(ctx, 3, 1, 100, "inv-c")
	require.NoError(t, err)

	assert.Equal(t, bBefore+sevenDays, env.expiryOf(t, 2))
	assert.Equal(t, aBefore, env.expiryOf(t, 1))
}

func TestGrant_FreeGrantDoesNotCascade(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.seedClient(t, 1, 1_000)
	_, err := env.ledger.RecordReferral(ctx, 1, 2)
	require.NoError(t, err)

	_, err = env.engine.Grant(ctx, GrantRequest{UserID: 2, Months: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), env.expiryOf(t, 1))
}

func TestGrant_ReferralBonusFailureIsSwallowed(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.seedClient(t, 1, 1_000)
	_, err := env.ledger.RecordReferral(ctx, 1, 100)
	require.NoError(t, err)
	env.gateway.failOn[1] = models.ErrProvisioning

	url, err := env.engine.GrantPaid(ctx, 100, 1, 100, "inv-1")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Equal(t, testNow.UnixMilli()+30*expiry.DayMillis, env.expiryOf(t, 100))
	assert.Equal(t, int64(1_000), env.expiryOf(t, 1))
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.ReferralCascades.WithLabelValues(metrics.ResultError)), 0)
}

func TestGrant_ReferrerBusyBonusSkipped(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.seedClient(t, 1, 1_000)
	_, err := env.ledger.RecordReferral(ctx, 1, 100)
	require.NoError(t, err)
	_, ok, _ := env.lock.TryAcquire(ctx, 1)
	require.True(t, ok)

	_, err = env.engine.GrantPaid(ctx, 100, 1, 100, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), env.expiryOf(t, 1))
}

func TestGrant_ReferralScenario(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	_, err := env.engine.Grant(ctx, GrantRequest{UserID: 1, Months: 1})
	require.NoError(t, err)
	created, err := env.engine.RegisterReferral(ctx, 1, 100)
	require.NoError(t, err)
	require.True(t, created)

	before := env.expiryOf(t, 1)
	_, err = env.engine.Grant(ctx, GrantRequest{UserID: 100, Months: 3, Paid: true, InvoiceID: "inv-1", Amount: 249})
	require.NoError(t, err)
	assert.Equal(t, before+sevenDays, env.expiryOf(t, 1))

	_, err = env.engine.Grant(ctx, GrantRequest{UserID: 100, Months: 3, Paid: true, InvoiceID: "inv-1", Amount: 249})
	require.NoError(t, err)
	assert.Equal(t, before+sevenDays, env.expiryOf(t, 1))
}
