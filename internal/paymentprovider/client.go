// Package paymentprovider содержит клиент Crypto Pay API (CryptoBot):
// выставление счёта в фиатной валюте и проверку его оплаты.
package paymentprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/magabrotheeeer/vpn-shop/internal/config"
)

// Client клиент CryptoBot.
type Client struct {
	token       string
	apiURL      string
	fiat        string
	botUsername string
	httpClient  *http.Client
}

// NewClient создаёт новый клиент CryptoBot
func NewClient(cfg config.CryptoBot) *Client {
	return &Client{
		token:       cfg.Token,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		fiat:        cfg.Fiat,
		botUsername: cfg.BotUsername,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Crypto-Pay-API-Token", c.token)
	return req, nil
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unexpected status: " + resp.Status)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if !envelope.OK {
		if envelope.Error != nil {
			return fmt.Errorf("api error %d: %s", envelope.Error.Code, envelope.Error.Name)
		}
		return errors.New("api returned ok=false")
	}
	return json.Unmarshal(envelope.Result, result)
}

// CreateInvoice выставляет счёт на сумму amount в фиатной валюте.
func (c *Client) CreateInvoice(ctx context.Context, amount int64, orderRef string) (*CreatedInvoice, error) {
	const op = "paymentprovider.CreateInvoice"

	params := url.Values{}
	params.Set("currency_type", "fiat")
	params.Set("fiat", c.fiat)
	params.Set("amount", strconv.FormatInt(amount, 10))
	params.Set("description", "VPN subscription "+orderRef)
	params.Set("paid_btn_name", "callback")
	params.Set("paid_btn_url", "https://t.me/"+c.botUsername)

	req, err := c.newRequest(ctx, http.MethodPost, "/createInvoice", params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var inv Invoice
	if err := c.do(req, &inv); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if inv.PayURL == "" || inv.InvoiceID == 0 {
		return nil, fmt.Errorf("%s: empty invoice in response", op)
	}
	return &CreatedInvoice{PayURL: inv.PayURL, InvoiceID: inv.InvoiceID.String()}, nil
}

// IsPaid сообщает, оплачен ли счёт.
func (c *Client) IsPaid(ctx context.Context, invoiceID string) (bool, error) {
	const op = "paymentprovider.IsPaid"

	params := url.Values{}
	params.Set("invoice_ids", invoiceID)
	req, err := c.newRequest(ctx, http.MethodGet, "/getInvoices", params)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	var list invoiceList
	if err := c.do(req, &list); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return len(list.Items) > 0 && list.Items[0].Status == StatusPaid, nil
}
