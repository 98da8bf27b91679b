// Package promo создаёт или пополняет промокод (только администратор).
package promo

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Request тело запроса. Activations = 0 закрывает код для новых активаций.
type Request struct {
	Code        string `json:"code" validate:"required,alphanum,max=64"`
	Days        int    `json:"days" validate:"required,gt=0"`
	Activations int    `json:"activations" validate:"gte=0"`
}

// Handler обработчик POST /admin/promo.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service создание промокода.
type Service interface {
	CreatePromo(ctx context.Context, code string, days, activations int) error
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
	const op = "handlers.admin.promo"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
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

	if err := h.service.CreatePromo(r.Context(), req.Code, req.Days, req.Activations); err != nil {
		log.Error("failed to create promo code", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	code := models.CanonicalPromoCode(req.Code)
	log.Info("promo code created", slog.String("code", code), slog.Int("days", req.Days), slog.Int("activations", req.Activations))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(map[string]any{
		"code":        code,
		"days":        req.Days,
		"activations": req.Activations,
	}))
}
