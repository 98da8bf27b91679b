// Package grant выдаёт пользователю бесплатные дни вручную (только администратор).
package grant

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
)

// Request тело запроса.
type Request struct {
	Days int `json:"days" validate:"required,gt=0,lte=3650"`
}

// Handler обработчик POST /admin/users/{id}/grant.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service бесплатная выдача.
type Service interface {
	GrantDays(ctx context.Context, userID int64, days int) (string, error)
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
	const op = "handlers.admin.grant"
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

	url, err := h.service.GrantDays(r.Context(), userID, req.Days)
	if err != nil {
		log.Error("failed to grant days", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("days granted by admin", slog.Int("days", req.Days))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscription_url": url,
	}))
}
