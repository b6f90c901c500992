// Package router assembles the HTTP surface of the API process.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/beybars1/napoleon-tseh/internal/http/handlers"
	httpmiddleware "github.com/beybars1/napoleon-tseh/internal/http/middleware"
	"github.com/beybars1/napoleon-tseh/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Webhooks           *handlers.WebhookHandler
	Orders             *handlers.OrdersHandler
	Conversations      *handlers.ConversationsHandler
	Admin              *handlers.AdminHandler
	Health             *handlers.HealthHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		}))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Live)
		r.Get("/health/ready", cfg.Health.Ready)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Webhooks != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/telegram", cfg.Webhooks.HandleTelegram)
			r.Post("/whatsapp", cfg.Webhooks.HandleWhatsApp)
		})
	}

	if cfg.Orders != nil {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/manager", cfg.Orders.ListManager)
			r.Get("/ai", cfg.Orders.ListAI)
			r.Get("/review", cfg.Orders.ListReview)
			r.Get("/digest", cfg.Orders.Digest)
			r.Patch("/ai/{orderID}/validation", cfg.Orders.UpdateValidation)
		})
	}

	if cfg.Conversations != nil {
		r.Get("/conversations/{chatID}", cfg.Conversations.GetByChat)
	}

	if cfg.Admin != nil {
		r.Post("/admin/reprocess", cfg.Admin.Reprocess)
	}

	return r
}
