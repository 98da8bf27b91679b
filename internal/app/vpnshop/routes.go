// Package vpnshop собирает HTTP API магазина: движок подписок, счета,
// консьюмер подтверждений оплаты и маршруты.
package vpnshop

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/admin/grant"
	adminpromo "github.com/magabrotheeeer/vpn-shop/internal/http/handlers/admin/promo"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/admin/reconcile"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/health"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/invoices/confirm"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/invoices/create"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/invoices/tariffs"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/users/gift"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/users/promo"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/users/referrals"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/users/referrer"
	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/users/status"
	"github.com/magabrotheeeer/vpn-shop/internal/http/middlewarectx"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-shop/internal/services/bonus"
	"github.com/magabrotheeeer/vpn-shop/internal/services/payment"
	"github.com/magabrotheeeer/vpn-shop/internal/services/subscription"
)

// Services зависимости маршрутов.
type Services struct {
	Engine   *subscription.Engine
	Ledger   *bonus.Ledger
	Payments *payment.Service
	Tokens   middlewarectx.TokenParser
	Gatherer prometheus.Gatherer
	Checks   map[string]health.Checker

	RateLimit float64
	RateBurst int
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, s Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.JWTMiddleware(s.Tokens, logger))
		r.Use(middlewarectx.RateLimitMiddleware(logger, s.RateLimit, s.RateBurst))

		// Бот и администратор
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RequireRole(logger, jwt.RoleBot, jwt.RoleAdmin))
			r.Get("/tariffs", tariffs.New(logger, s.Payments).ServeHTTP)
			r.Post("/invoices/{invoice_id}/confirm", confirm.New(logger, s.Payments).ServeHTTP)

			r.Route("/users/{id}", func(r chi.Router) {
				r.Use(middlewarectx.UserIDMiddleware(logger))
				r.Post("/referrer", referrer.New(logger, s.Engine).ServeHTTP)
				r.Post("/promo", promo.New(logger, s.Engine).ServeHTTP)
				r.Post("/gift", gift.New(logger, s.Engine).ServeHTTP)
				r.Get("/subscription", status.New(logger, s.Engine).ServeHTTP)
				r.Get("/referrals", referrals.New(logger, s.Ledger).ServeHTTP)
				r.Post("/invoices", create.New(logger, s.Payments).ServeHTTP)
			})
		})

		// Только администратор
		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewarectx.RequireRole(logger, jwt.RoleAdmin))
			r.Post("/promo", adminpromo.New(logger, s.Ledger).ServeHTTP)
			r.Route("/users/{id}", func(r chi.Router) {
				r.Use(middlewarectx.UserIDMiddleware(logger))
				r.Post("/grant", grant.New(logger, s.Engine).ServeHTTP)
				r.Post("/reconcile", reconcile.New(logger, s.Engine).ServeHTTP)
			})
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", health.New(logger, s.Checks).ServeHTTP)
}
