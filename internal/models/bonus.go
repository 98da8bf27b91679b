package models

import (
	"strings"
	"time"
)

// PromoCode — промокод с ограниченным пулом активаций.
type PromoCode struct {
	Code            string // Каноническая форма (верхний регистр)
	Days            int    // Бонус в днях
	ActivationsLeft int    // Оставшиеся активации, не меньше нуля
}

// CanonicalPromoCode приводит введённый пользователем код к канонической форме.
func CanonicalPromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ReferralEdge — связь "пригласивший → приглашённый".
type ReferralEdge struct {
	ReferrerID     int64
	ReferredUserID int64
	CreatedAt      time.Time
}

// PaidMark фиксирует факт оплаты по конкретному счёту.
type PaidMark struct {
	UserID    int64
	InvoiceID string
	Amount    int64
	PaidAt    time.Time
}

// ReferralStats — статистика приглашений пользователя.
type ReferralStats struct {
	Total int `json:"total"`
	Paid  int `json:"paid"`
}
