package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/domain"
)

// WebhookAPI is the provider's webhook management API.
type WebhookAPI interface {
	ListWebhooks(ctx context.Context) ([]domain.Webhook, error)
	CreateWebhook(ctx context.Context, reg domain.WebhookRegistration) error
}

// Registrar checks for and creates the provider webhook pointing at this
// deployment. It keeps no local state.
type Registrar struct {
	api       WebhookAPI
	authToken string
	newToken  func() string
	logger    *slog.Logger
}

// NewRegistrar creates a Registrar. An empty authToken means a fresh random
// token is generated for every registration.
func NewRegistrar(api WebhookAPI, authToken string, logger *slog.Logger) *Registrar {
	return &Registrar{
		api:       api,
		authToken: authToken,
		newToken:  uuid.NewString,
		logger:    logger.With("component", "webhook_registrar"),
	}
}

// CheckRegistered reports whether a webhook targets exactly url.
func (r *Registrar) CheckRegistered(ctx context.Context, url string) (bool, error) {
	webhooks, err := r.api.ListWebhooks(ctx)
	if err != nil {
		webhookRegistrationsCounter.WithLabelValues("check", "error").Inc()
		return false, fmt.Errorf("list webhooks: %w", err)
	}
	for _, wh := range webhooks {
		if wh.Target == url {
			webhookRegistrationsCounter.WithLabelValues("check", "found").Inc()
			return true, nil
		}
	}
	webhookRegistrationsCounter.WithLabelValues("check", "not_found").Inc()
	return false, nil
}

// EnsureRegistered creates a webhook for url. The provider does not
// deduplicate, so calling it twice creates two webhooks.
func (r *Registrar) EnsureRegistered(ctx context.Context, url string) error {
	token := r.authToken
	if token == "" {
		token = r.newToken()
	}
	reg := domain.WebhookRegistration{
		Target:    url,
		Name:      domain.WebhookName,
		AuthToken: token,
		Events:    []string{domain.EventTypeBounce, domain.EventTypeOutOfBand},
	}
	if err := r.api.CreateWebhook(ctx, reg); err != nil {
		webhookRegistrationsCounter.WithLabelValues("ensure", "error").Inc()
		return fmt.Errorf("create webhook: %w", err)
	}
	webhookRegistrationsCounter.WithLabelValues("ensure", "created").Inc()
	r.logger.InfoContext(ctx, "Webhook created", "target", url, "events", reg.Events)
	return nil
}
