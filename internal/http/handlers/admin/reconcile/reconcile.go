// Package reconcile выравнивает срок клиента на всех панелях по основной
// (только администратор).
package reconcile

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/vpn-shop/internal/http/middlewarectx"
	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
)

// Handler обработчик POST /admin/users/{id}/reconcile.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service согласование панелей.
type Service interface {
	Reconcile(ctx context.Context, userID int64) (int64, error)
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.reconcile"
	userID, _ := middlewarectx.UserIDFrom(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.User(userID),
	)

	expiry, err := h.service.Reconcile(r.Context(), userID)
	if err != nil {
		log.Error("failed to reconcile client", sl.Err(err))
		response.RenderError(w, r, err)
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"expiry_timestamp": expiry,
	}))
}
