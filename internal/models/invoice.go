package models

import "time"

// Статусы счёта.
const (
	InvoicePending    = "pending"
	InvoiceProcessing = "processing"
	InvoicePaid       = "paid"
	InvoiceExpired    = "expired"
)

// Invoice — счёт на оплату подписки у платёжного провайдера.
type Invoice struct {
	InvoiceID string    `json:"invoice_id"`
	UserID    int64     `json:"user_id"`
	Months    int       `json:"months"`
	Amount    int64     `json:"amount"`
	PayURL    string    `json:"pay_url"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Tariff — вариант платной подписки.
type Tariff struct {
	Months int   `yaml:"months" json:"months"`
	Price  int64 `yaml:"price" json:"price"`
}

// PaymentConfirmed — событие об оплате счёта, которое поллер публикует в брокер.
type PaymentConfirmed struct {
	InvoiceID string `json:"invoice_id"`
}
