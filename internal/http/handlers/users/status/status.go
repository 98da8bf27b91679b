// Package status отдаёт состояние подписки пользователя: активна ли она,
// срок действия, остаток времени и ссылку подписки.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/vpn-shop/internal/http/middlewarectx"
	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Handler обработчик GET /users/{id}/subscription.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service чтение статуса подписки.
type Service interface {
	Status(ctx context.Context, userID int64) (*models.SubscriptionStatus, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.users.status"
	userID, _ := middlewarectx.UserIDFrom(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.User(userID),
	)

	st, err := h.service.Status(r.Context(), userID)
	if err != nil {
		log.Warn("failed to read subscription status", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(st))
}
