// Package referrer привязывает нового пользователя к пригласившему
// по реферальной ссылке.
package referrer

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
	ReferrerID int64 `json:"referrer_id" validate:"required,gt=0"`
}

// Handler обработчик POST /users/{id}/referrer.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service регистрация реферальной связи.
type Service interface {
	RegisterReferral(ctx context.Context, referrerID, userID int64) (bool, error)
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
	const op = "handlers.users.referrer"
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

	created, err := h.service.RegisterReferral(r.Context(), req.ReferrerID, userID)
	if err != nil {
		log.Error("failed to register referral", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	log.Info("referral processed", slog.Int64("referrer_id", req.ReferrerID), slog.Bool("created", created))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"created": created,
	}))
}
