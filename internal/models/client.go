// Package models содержит доменные структуры VPN-магазина: запись клиента VPN,
// промокоды, реферальные связи, отметки об оплате и счета, а также общие ошибки домена.
package models

import "time"

// ClientRecord хранит связку пользователя Telegram с его VPN-идентичностью.
// ExpiryTimestamp — кеш срока действия; авторитетное значение хранится в панели.
type ClientRecord struct {
	UserID          int64     // Внешний идентификатор пользователя (Telegram ID)
	ClientUUID      string    // UUID клиента, передаваемый в панель
	SubscriptionID  string    // Идентификатор ссылки подписки
	EmailKey        string    // Ключ, по которому панель ищет трафик и срок действия
	ExpiryTimestamp int64     // Срок действия в миллисекундах с начала эпохи
	CreatedAt       time.Time // Дата создания записи
}

// SubscriptionStatus описывает текущее состояние подписки пользователя.
type SubscriptionStatus struct {
	UserID          int64  `json:"user_id"`
	Active          bool   `json:"active"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
	RemainingDays   int64  `json:"remaining_days"`
	RemainingHours  int64  `json:"remaining_hours"`
	RemainingMin    int64  `json:"remaining_minutes"`
	SubscriptionURL string `json:"subscription_url"`
}
