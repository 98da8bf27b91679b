// Package confirm подтверждает оплату счёта по запросу пользователя
// (кнопка "проверить оплату").
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Handler обработчик POST /invoices/{invoice_id}/confirm.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service подтверждение оплаты.
type Service interface {
	ConfirmInvoice(ctx context.Context, invoiceID string) (string, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.invoices.confirm"
	invoiceID := chi.URLParam(r, "invoice_id")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Invoice(invoiceID),
	)

	url, err := h.service.ConfirmInvoice(r.Context(), invoiceID)
	switch {
	case errors.Is(err, models.ErrAlreadyProcessed) && url != "":
		log.Info("invoice already processed")
		render.JSON(w, r, response.OKWithData(map[string]any{
			"subscription_url":  url,
			"already_processed": true,
		}))
		return
	case errors.Is(err, models.ErrPaymentPending):
		log.Info("payment not confirmed yet")
		response.RenderError(w, r, err)
		return
	case err != nil:
		log.Error("failed to confirm invoice", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("invoice confirmed")
	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscription_url":  url,
		"already_processed": false,
	}))
}
