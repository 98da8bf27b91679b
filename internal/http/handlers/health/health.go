// Package health отдаёт состояние сервиса для проб оркестратора.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/sl"
)

// Checker проверяет готовность зависимости.
type Checker func(ctx context.Context) error

type Handler struct {
	log    *slog.Logger
	checks map[string]Checker
}

func New(log *slog.Logger, checks map[string]Checker) *Handler {
	return &Handler{
		log:    log,
		checks: checks,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn("dependency check failed", slog.String("op", op), slog.String("dependency", name), sl.Err(err))
			status[name] = "unavailable"
			status["status"] = "degraded"
			continue
		}
		status[name] = "ok"
	}
	if status["status"] != "ok" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, response.OKWithData(status))
}
