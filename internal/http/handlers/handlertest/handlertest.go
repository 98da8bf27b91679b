// Package handlertest помогает тестировать обработчики через роутер chi.
package handlertest

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi"

	"github.com/magabrotheeeer/vpn-shop/internal/http/middlewarectx"
)

// NoopLogger логгер, который ничего не пишет.
func NoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// Serve монтирует h на pattern и выполняет запрос. Для шаблонов с {id}
// подключается UserIDMiddleware, как в основном роутере.
func Serve(h http.Handler, method, pattern, path, body string) *httptest.ResponseRecorder {
	var r chi.Router = chi.NewRouter()
	mux := r
	if strings.Contains(pattern, "{id}") {
		// Параметры пути известны только после сопоставления маршрута.
		r = r.With(middlewarectx.UserIDMiddleware(NoopLogger()))
	}
	r.Method(method, pattern, h)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}
