package domain

import "strings"

// Event types a registration subscribes to.
const (
	EventTypeBounce     = "bounce"
	EventTypeOutOfBand  = "out_of_band"
	WebhookName         = "Bounce Forwarder"
	MessageCallbackPath = "/message"
)

// WebhookRegistration is the body sent to create a webhook.
type WebhookRegistration struct {
	Target    string   `json:"target"`
	Name      string   `json:"name"`
	AuthToken string   `json:"auth_token,omitempty"`
	Events    []string `json:"events"`
}

// Webhook is a registered webhook as listed by the provider.
type Webhook struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Target string   `json:"target"`
	Events []string `json:"events"`
}

// CallbackURL is the webhook target for a deployment served at host. An IPv6
// literal host is bracketed.
func CallbackURL(host string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "https://" + host + MessageCallbackPath
}
