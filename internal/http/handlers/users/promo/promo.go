// Package promo активирует промокод пользователя.
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

	"github.com/magabrotheeeer/vpn-shop/internal/http/middlewarectx"
	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
	"github.com/magabrotheeeer/vpn-shop/internal/services/subscription"
)

// Request тело запроса.
type Request struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Handler обработчик POST /users/{id}/promo.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service активация промокода.
type Service interface {
	GrantPromo(ctx context.Context, userID int64, code string) (*subscription.PromoResult, error)
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
	const op = "handlers.users.promo"
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

	res, err := h.service.GrantPromo(r.Context(), userID, req.Code)
	if err != nil {
		if errors.Is(err, models.ErrPromoNotFound) || errors.Is(err, models.ErrPromoExhausted) {
			log.Info("promo code rejected", sl.Err(err))
		} else {
			log.Error("failed to activate promo code", sl.Err(err))
		}
		response.RenderError(w, r, err)
		return
	}

	log.Info("promo code activated", slog.Int("days", res.Days))
	render.JSON(w, r, response.OKWithData(res))
}
