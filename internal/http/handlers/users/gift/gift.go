// Package gift выдаёт разовый подарок подписчику новостного канала.
package gift

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/vpn-shop/internal/http/middlewarectx"
	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

// Handler обработчик POST /users/{id}/gift.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service выдача подарка.
type Service interface {
	ClaimGift(ctx context.Context, userID int64) (string, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.users.gift"
	userID, _ := middlewarectx.UserIDFrom(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.User(userID),
	)

	url, err := h.service.ClaimGift(r.Context(), userID)
	if err != nil {
		if errors.Is(err, models.ErrGiftAlreadyClaimed) || errors.Is(err, models.ErrNotChannelMember) {
			log.Info("gift rejected", sl.Err(err))
		} else {
			log.Error("failed to grant gift", sl.Err(err))
		}
		response.RenderError(w, r, err)
		return
	}

	log.Info("gift granted")
	render.JSON(w, r, response.OKWithData(map[string]any{
		"subscription_url": url,
	}))
}
