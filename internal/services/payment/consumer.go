package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// HandleConfirmed обрабатывает сообщение об оплате из очереди.
// Ошибка означает, что сообщение нужно вернуть в очередь.
func (s *Service) HandleConfirmed(ctx context.Context, body []byte) error {
	const op = "payment.HandleConfirmed"
	log := s.log.With(slog.String("op", op))

	var msg models.PaymentConfirmed
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("dropping malformed payment message", slog.String("body", string(body)), sl.Err(err))
		return nil
	}
	if msg.InvoiceID == "" {
		log.Error("dropping payment message without invoice id", slog.String("body", string(body)))
		return nil
	}

	_, err := s.ConfirmInvoice(ctx, msg.InvoiceID)
	switch {
	case err == nil,
		errors.Is(err, models.ErrAlreadyProcessed),
		errors.Is(err, models.ErrNotFound):
		return nil
	case errors.Is(err, models.ErrPaymentPending):
		// Поллер опубликует счёт снова на следующем проходе.
		log.Warn("payment not confirmed by provider", sl.Invoice(msg.InvoiceID))
		return nil
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
