package models

import "errors"

var (
	// ErrStorageUnavailable — хранилище недоступно; не означает отсутствие записи.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound — запись в хранилище не найдена.
	ErrNotFound = errors.New("not found")

	// ErrClientNotFound — панель не знает клиента с таким ключом.
	ErrClientNotFound = errors.New("client not found on panel")

	// ErrProvisioning — ошибка авторизации или изменения клиента в панели.
	ErrProvisioning = errors.New("provisioning failure")

	// ErrLockContention — над пользователем уже выполняется операция.
	ErrLockContention = errors.New("user action in progress")

	// ErrDuplicateInvoice — счёт уже был учтён.
	ErrDuplicateInvoice = errors.New("duplicate invoice")

	// ErrPromoNotFound — промокод не найден.
	ErrPromoNotFound = errors.New("promo code not found")

	// ErrPromoExhausted — у промокода не осталось активаций.
	ErrPromoExhausted = errors.New("promo code exhausted")

	// ErrInvoiceRequired — платное продление без идентификатора счёта.
	ErrInvoiceRequired = errors.New("invoice id is required for paid grant")

	// ErrPaymentPending — провайдер ещё не подтвердил оплату.
	ErrPaymentPending = errors.New("payment is not confirmed yet")

	// ErrAlreadyProcessed — счёт уже обработан или захвачен другим обработчиком.
	ErrAlreadyProcessed = errors.New("invoice already processed")

	// ErrGiftAlreadyClaimed — подарочный бонус уже получен.
	ErrGiftAlreadyClaimed = errors.New("gift already claimed")

	// ErrNotChannelMember — пользователь не подписан на новостной канал.
	ErrNotChannelMember = errors.New("user is not a channel member")

	// ErrUnknownTariff — тарифа с таким числом месяцев нет.
	ErrUnknownTariff = errors.New("unknown tariff")

	// ErrInvalidArgument — некорректные параметры запроса.
	ErrInvalidArgument = errors.New("invalid argument")
)
