package postgresql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/vpn-shop/internal/migrations"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// CreateClient создаёт запись клиента напрямую в БД
func (f *TestDataFactory) CreateClient(t *testing.T, rec models.ClientRecord) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO clients 
		(user_id, client_uuid, subscription_id, email_key, expiry_timestamp)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.UserID, rec.ClientUUID, rec.SubscriptionID, rec.EmailKey, rec.ExpiryTimestamp)
	require.NoError(t, err)
}

// CreateInvoiceAt создаёт счёт с заданным временем создания
func (f *TestDataFactory) CreateInvoiceAt(t *testing.T, inv models.Invoice, createdAt time.Time) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO invoices 
		(invoice_id, user_id, months, amount, pay_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.InvoiceID, inv.UserID, inv.Months, inv.Amount, inv.PayURL, inv.Status, createdAt)
	require.NoError(t, err)
}

// setupTestDatabase поднимает контейнер PostgreSQL и применяет миграции
func setupTestDatabase(t *testing.T) (*Storage, *TestDataFactory) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		_ = pgContainer.Terminate(ctx)
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "Failed to create storage after retries")
	t.Cleanup(func() {
		_ = storage.Close()
	})

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath))
	require.NoError(t, CheckDatabaseReady(ctx, storage))

	return storage, &TestDataFactory{storage: storage}
}
