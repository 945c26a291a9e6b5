package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/app"
)

// RouterDeps are the collaborators served by NewRouter.
type RouterDeps struct {
	Receiver   WebhookReceiver
	Registrar  WebhookRegistrar
	Publisher  app.ReadinessChecker
	Subscriber app.ReadinessChecker
	// PublicDir is served on / when non-empty.
	PublicDir string
	Logger    *slog.Logger
}

// NewRouter builds the HTTP surface of the service.
func NewRouter(deps RouterDeps) http.Handler {
	messageHandler := NewMessageHandler(deps.Receiver, deps.Logger)
	webhookHandler := NewWebhookHandler(deps.Registrar, deps.Logger)

	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(chi_middleware.Timeout(60 * time.Second))

	r.Post("/message", messageHandler.HandleMessage)
	r.Get("/webhook", webhookHandler.GetWebhook)
	r.Post("/webhook", webhookHandler.PostWebhook)
	r.Get("/health", HealthHandler(deps.Publisher, deps.Subscriber))
	r.Handle("/metrics", promhttp.Handler())

	if deps.PublicDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(deps.PublicDir)))
	}
	return r
}
