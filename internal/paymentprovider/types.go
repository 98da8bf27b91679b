package paymentprovider

import (
	"encoding/json"
	"strconv"
)

// Статусы счёта CryptoBot.
const (
	StatusActive  = "active"
	StatusPaid    = "paid"
	StatusExpired = "expired"
)

// apiResponse общий конверт ответов Crypto Pay API.
type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

// InvoiceID идентификатор счёта; API отдаёт его числом.
type InvoiceID int64

func (id InvoiceID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Invoice счёт CryptoBot.
type Invoice struct {
	InvoiceID InvoiceID `json:"invoice_id"`
	Status    string    `json:"status"`
	PayURL    string    `json:"pay_url"`
	Amount    string    `json:"amount"`
	Fiat      string    `json:"fiat"`
}

type invoiceList struct {
	Items []Invoice `json:"items"`
}

// CreatedInvoice результат выставления счёта.
type CreatedInvoice struct {
	PayURL    string
	InvoiceID string
}
