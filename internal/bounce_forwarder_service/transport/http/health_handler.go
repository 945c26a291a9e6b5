package http

import (
	"net/http"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/app"
)

type healthResponse struct {
	Status          string `json:"status"`
	PublisherReady  bool   `json:"publisher_ready"`
	SubscriberReady bool   `json:"subscriber_ready"`
}

// HealthHandler reports queue readiness on GET /health.
func HealthHandler(publisher, subscriber app.ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:          "ok",
			PublisherReady:  publisher.IsReady(),
			SubscriberReady: subscriber.IsReady(),
		}
		status := http.StatusOK
		if !resp.PublisherReady || !resp.SubscriberReady {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
