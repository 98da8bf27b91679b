// Package referrals отдаёт статистику приглашений пользователя.
package referrals

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

// Handler обработчик GET /users/{id}/referrals.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service статистика приглашений.
type Service interface {
	ReferralStats(ctx context.Context, userID int64) (models.ReferralStats, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.users.referrals"
	userID, _ := middlewarectx.UserIDFrom(r.Context())

	stats, err := h.service.ReferralStats(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to read referral stats",
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			sl.User(userID),
			sl.Err(err),
		)
		response.RenderError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(stats))
}
