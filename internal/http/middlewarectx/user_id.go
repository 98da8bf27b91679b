package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/vpn-shop/internal/http/response"
)

// UserIDMiddleware разбирает параметр пути {id} как Telegram ID пользователя.
func UserIDMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := chi.URLParam(r, "id")
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				log.Warn("invalid user id in path", slog.String("id", raw))
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("invalid user id"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserID, id)))
		})
	}
}

// UserIDFrom возвращает идентификатор пользователя, положенный UserIDMiddleware.
func UserIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserID).(int64)
	return id, ok
}
