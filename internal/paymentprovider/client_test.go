package paymentprovider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/vpn-shop/internal/config"
)

func setupClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.CryptoBot{
		APIURL:      srv.URL + "/api",
		Token:       "token",
		Fiat:        "RUB",
		BotUsername: "vpn_bot",
		Timeout:     5 * time.Second,
	})
}

func TestCreateInvoice(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/createInvoice", r.URL.Path)
		assert.Equal(t, "token", r.Header.Get("Crypto-Pay-API-Token"))
		q := r.URL.Query()
		assert.Equal(t, "fiat", q.Get("currency_type"))
		assert.Equal(t, "RUB", q.Get("fiat"))
		assert.Equal(t, "249", q.Get("amount"))
		assert.Equal(t, "https://t.me/vpn_bot", q.Get("paid_btn_url"))
		_, _ = io.WriteString(w, `{"ok":true,"result":{"invoice_id":12345,"status":"active","pay_url":"https://t.me/CryptoBot?start=IV1"}}`)
	})

	inv, err := c.CreateInvoice(context.Background(), 249, "42-3")
	require.NoError(t, err)
	assert.Equal(t, "12345", inv.InvoiceID)
	assert.Equal(t, "https://t.me/CryptoBot?start=IV1", inv.PayURL)
}

func TestCreateInvoice_APIError(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error":{"code":401,"name":"UNAUTHORIZED"}}`)
	})

	_, err := c.CreateInvoice(context.Background(), 100, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNAUTHORIZED")
}

func TestIsPaid(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr bool
	}{
		{name: "paid", status: http.StatusOK, body: `{"ok":true,"result":{"items":[{"invoice_id":1,"status":"paid"}]}}`, want: true},
		{name: "active", status: http.StatusOK, body: `{"ok":true,"result":{"items":[{"invoice_id":1,"status":"active"}]}}`},
		{name: "no items", status: http.StatusOK, body: `{"ok":true,"result":{"items":[]}}`},
		{name: "not ok", status: http.StatusOK, body: `{"ok":false}`, wantErr: true},
		{name: "http error", status: http.StatusBadGateway, body: `oops`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/getInvoices", r.URL.Path)
				assert.Equal(t, "1", r.URL.Query().Get("invoice_ids"))
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			paid, err := c.IsPaid(context.Background(), "1")
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, paid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, paid)
		})
	}
}
