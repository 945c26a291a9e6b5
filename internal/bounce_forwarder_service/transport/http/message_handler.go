package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/app"
)

// MaxMessageBodySize bounds webhook bodies.
const MaxMessageBodySize = 10 << 20 // 10 MB

// WebhookReceiver processes a raw webhook body and decides the response.
type WebhookReceiver interface {
	Handle(ctx context.Context, body []byte, host string) (int, string)
}

// MessageHandler is the provider's webhook sink on POST /message.
type MessageHandler struct {
	receiver WebhookReceiver
	logger   *slog.Logger
}

func NewMessageHandler(receiver WebhookReceiver, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		receiver: receiver,
		logger:   logger.With("component", "message_handler"),
	}
}

func (h *MessageHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi_middleware.GetReqID(ctx)
	logger := h.logger.With("request_id", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, MaxMessageBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "Webhook body too large", "limit", tooLarge.Limit)
			writeText(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		logger.ErrorContext(ctx, "Failed to read webhook body", "error", err)
		writeText(w, http.StatusBadRequest, "Invalid data: "+err.Error())
		return
	}

	host := requestHost(r)
	logger.DebugContext(ctx, "Received webhook call", "host", host, "payload_size", len(body))

	status, text := h.receiver.Handle(app.WithLogger(ctx, logger), body, host)
	writeText(w, status, text)
}
