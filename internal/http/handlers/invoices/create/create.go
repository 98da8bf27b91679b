// Package create выставляет счёт на оплату тарифа.
package create

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-shop/internal/http/middlewarectx"
	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Request тело запроса.
type Request struct {
	Months int `json:"months" validate:"required,gt=0"`
}

// Handler обработчик POST /users/{id}/invoices.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service выставление счёта.
type Service interface {
	CreateInvoice(ctx context.Context, userID int64, months int) (*models.Invoice, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.invoices.create"
	userID, _ := middlewarectx.UserIDFrom(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.User(userID),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request"))
		return
	}

	inv, err := h.service.CreateInvoice(r.Context(), userID, req.Months)
	if err != nil {
		log.Error("failed to create invoice", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("invoice created", sl.Invoice(inv.InvoiceID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(inv))
}
