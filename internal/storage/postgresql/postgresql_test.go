package postgresql

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

func newRecord(userID int64, expiry int64) models.ClientRecord {
	return models.ClientRecord{
		UserID:          userID,
		ClientUUID:      uuid.NewString(),
		SubscriptionID:  uuid.NewString()[:16],
		EmailKey:        uuid.NewString()[:12],
		ExpiryTimestamp: expiry,
	}
}

func TestStorage_Clients(t *testing.T) {
	storage, factory := setupTestDatabase(t)
	ctx := context.Background()

	_, err := storage.GetClient(ctx, 1)
	assert.ErrorIs(t, err, models.ErrNotFound)

	exists, err := storage.ClientExists(ctx, 1)
	require.NoError(t, err)
	assert.False(t, exists)

	rec := newRecord(1, 1000)
	require.NoError(t, storage.UpsertClient(ctx, rec))

	got, err := storage.GetClient(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rec.ClientUUID, got.ClientUUID)
	assert.Equal(t, rec.SubscriptionID, got.SubscriptionID)
	assert.Equal(t, int64(1000), got.ExpiryTimestamp)
	assert.False(t, got.CreatedAt.IsZero())

	rec.ExpiryTimestamp = 5000
	require.NoError(t, storage.UpsertClient(ctx, rec))
	got, err = storage.GetClient(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.ExpiryTimestamp)

	require.NoError(t, storage.UpdateExpiry(ctx, 1, 7000))
	got, err = storage.GetClient(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), got.ExpiryTimestamp)

	assert.ErrorIs(t, storage.UpdateExpiry(ctx, 2, 1), models.ErrNotFound)

	factory.CreateClient(t, newRecord(3, 10))
	exists, err = storage.ClientExists(ctx, 3)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStorage_UnavailableIsNotAbsent(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()

	closed := &Storage{DB: storage.DB}
	require.NoError(t, storage.Close())

	_, err := closed.GetClient(ctx, 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrNotFound))

	var nilStorage *Storage
	_, err = nilStorage.GetClient(ctx, 1)
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}

func TestStorage_TryActivatePromo(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, storage.CreatePromo(ctx, models.PromoCode{Code: "SUMMER30", Days: 30, ActivationsLeft: 2}))

	days, err := storage.TryActivatePromo(ctx, "SUMMER30")
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	p, err := storage.GetPromo(ctx, "SUMMER30")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ActivationsLeft)

	_, err = storage.TryActivatePromo(ctx, "SUMMER30")
	require.NoError(t, err)

	p, err = storage.GetPromo(ctx, "SUMMER30")
	require.NoError(t, err)
	assert.Equal(t, 0, p.ActivationsLeft, "exhausted code stays inactive")

	_, err = storage.TryActivatePromo(ctx, "SUMMER30")
	assert.ErrorIs(t, err, models.ErrPromoExhausted)

	_, err = storage.TryActivatePromo(ctx, "MISSING")
	assert.ErrorIs(t, err, models.ErrPromoNotFound)

	require.NoError(t, storage.CreatePromo(ctx, models.PromoCode{Code: "EMPTY", Days: 5, ActivationsLeft: 0}))
	_, err = storage.TryActivatePromo(ctx, "EMPTY")
	assert.ErrorIs(t, err, models.ErrPromoExhausted)
}

func TestStorage_CreatePromoResetsPool(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, storage.CreatePromo(ctx, models.PromoCode{Code: "RESET", Days: 3, ActivationsLeft: 3}))
	_, err := storage.TryActivatePromo(ctx, "RESET")
	require.NoError(t, err)
	require.NoError(t, storage.CreatePromo(ctx, models.PromoCode{Code: "RESET", Days: 4, ActivationsLeft: 3}))

	p, err := storage.GetPromo(ctx, "RESET")
	require.NoError(t, err)
	assert.Equal(t, 3, p.ActivationsLeft)
	assert.Equal(t, 4, p.Days)
}

func TestStorage_TryActivatePromo_Concurrent(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, storage.CreatePromo(ctx, models.PromoCode{Code: "ONCE", Days: 7, ActivationsLeft: 1}))

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := storage.TryActivatePromo(ctx, "ONCE"); err == nil {
				ok.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), rejected.Load())
}

func TestStorage_Referrals(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()

	created, err := storage.RecordReferral(ctx, 1, 100)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = storage.RecordReferral(ctx, 2, 100)
	require.NoError(t, err)
	assert.False(t, created, "first referrer wins")

	referrer, err := storage.GetReferrer(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), referrer)

	_, err = storage.GetReferrer(ctx, 1)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = storage.RecordReferral(ctx, 1, 101)
	require.NoError(t, err)
	require.NoError(t, storage.MarkPaid(ctx, models.PaidMark{UserID: 100, InvoiceID: "inv-1", Amount: 100}))

	stats, err := storage.ReferralStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStats{Total: 2, Paid: 1}, stats)
}

func TestStorage_MarkPaid(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()

	mark := models.PaidMark{UserID: 100, InvoiceID: "inv-1", Amount: 249}
	require.NoError(t, storage.MarkPaid(ctx, mark))
	assert.ErrorIs(t, storage.MarkPaid(ctx, mark), models.ErrDuplicateInvoice)

	has, err := storage.HasPaidMark(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, has)

	var count int
	require.NoError(t, storage.DB.QueryRow(`SELECT COUNT(*) FROM paid_marks WHERE invoice_id = 'inv-1'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStorage_Gifts(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()

	ok, err := storage.TryMarkGift(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = storage.TryMarkGift(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.UnmarkGift(ctx, 5))
	ok, err = storage.TryMarkGift(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorage_InvoiceLifecycle(t *testing.T) {
	storage, factory := setupTestDatabase(t)
	ctx := context.Background()

	inv := models.Invoice{InvoiceID: "42", UserID: 7, Months: 3, Amount: 249, PayURL: "https://pay/42"}
	require.NoError(t, storage.CreateInvoice(ctx, inv))
	assert.ErrorIs(t, storage.CreateInvoice(ctx, inv), models.ErrDuplicateInvoice)

	claimed, err := storage.ClaimInvoice(ctx, "42", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceProcessing, claimed.Status)
	assert.Equal(t, 3, claimed.Months)

	_, err = storage.ClaimInvoice(ctx, "42", time.Minute)
	assert.ErrorIs(t, err, models.ErrLockContention)

	require.NoError(t, storage.ReleaseInvoice(ctx, "42"))
	_, err = storage.ClaimInvoice(ctx, "42", time.Minute)
	require.NoError(t, err)
	require.NoError(t, storage.CompleteInvoice(ctx, "42"))

	_, err = storage.ClaimInvoice(ctx, "42", time.Minute)
	assert.ErrorIs(t, err, models.ErrAlreadyProcessed)

	_, err = storage.ClaimInvoice(ctx, "missing", time.Minute)
	assert.ErrorIs(t, err, models.ErrNotFound)

	now := time.Now()
	factory.CreateInvoiceAt(t, models.Invoice{InvoiceID: "old", UserID: 1, Months: 1, Amount: 100, PayURL: "u", Status: models.InvoicePending}, now.Add(-48*time.Hour))
	factory.CreateInvoiceAt(t, models.Invoice{InvoiceID: "new", UserID: 1, Months: 1, Amount: 100, PayURL: "u", Status: models.InvoicePending}, now.Add(-time.Hour))

	pending, err := storage.ListPendingInvoices(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "new", pending[0].InvoiceID)

	n, err := storage.ExpireInvoices(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := storage.GetInvoice(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceExpired, old.Status)
}

func TestUserLock(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()
	lock := NewUserLock(storage, time.Minute)

	token, ok, err := lock.TryAcquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = lock.TryAcquire(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = lock.TryAcquire(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per user")

	require.NoError(t, lock.Release(ctx, 1, token))
	_, ok, err = lock.TryAcquire(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserLock_ExpiredHolderCannotReleaseNewHolder(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()
	lock := NewUserLock(storage, time.Minute)

	first, ok, err := lock.TryAcquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = storage.DB.Exec(`UPDATE user_locks SET locked_at = NOW() - INTERVAL '3 minutes' WHERE user_id = 7`)
	require.NoError(t, err)

	second, ok, err := lock.TryAcquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, first, second)

	require.NoError(t, lock.Release(ctx, 7, first))
	_, ok, err = lock.TryAcquire(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok, "stale holder must not free the new holder")

	require.NoError(t, lock.Release(ctx, 7, second))
	_, ok, err = lock.TryAcquire(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserLock_StaleLockIsReclaimed(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()
	lock := NewUserLock(storage, time.Minute)

	_, err := storage.DB.Exec(`INSERT INTO user_locks (user_id, locked, locked_at) VALUES (9, TRUE, NOW() - INTERVAL '1 hour')`)
	require.NoError(t, err)

	_, ok, err := lock.TryAcquire(ctx, 9)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserLock_Concurrent(t *testing.T) {
	storage, _ := setupTestDatabase(t)
	ctx := context.Background()
	lock := NewUserLock(storage, time.Minute)

	var wg sync.WaitGroup
	var acquired atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := lock.TryAcquire(ctx, 77)
			if err == nil && ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), acquired.Load())
}
