package http

import (
	"context"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/domain"
)

// WebhookRegistrar looks up and creates the provider webhook for a callback URL.
type WebhookRegistrar interface {
	CheckRegistered(ctx context.Context, url string) (bool, error)
	EnsureRegistered(ctx context.Context, url string) error
}

// WebhookHandler serves GET and POST /webhook. The callback URL is derived from
// the Host the operator used to reach this deployment.
type WebhookHandler struct {
	registrar WebhookRegistrar
	logger    *slog.Logger
}

func NewWebhookHandler(registrar WebhookRegistrar, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		registrar: registrar,
		logger:    logger.With("component", "webhook_handler"),
	}
}

// GetWebhook answers 200 {app_url} when registered and 404 otherwise.
func (h *WebhookHandler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	appURL := domain.CallbackURL(requestHost(r))

	found, err := h.registrar.CheckRegistered(ctx, appURL)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to look up webhooks", "app_url", appURL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		logger.InfoContext(ctx, "Webhook not registered", "app_url", appURL)
		writeError(w, http.StatusNotFound, "webhook not registered")
		return
	}
	writeJSON(w, http.StatusOK, appURLResponse{AppURL: appURL})
}

// PostWebhook registers the callback URL with the provider.
func (h *WebhookHandler) PostWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	appURL := domain.CallbackURL(requestHost(r))

	if err := h.registrar.EnsureRegistered(ctx, appURL); err != nil {
		logger.ErrorContext(ctx, "Failed to register webhook", "app_url", appURL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.InfoContext(ctx, "Webhook registered", "app_url", appURL)
	writeJSON(w, http.StatusOK, appURLResponse{AppURL: appURL})
}
