// Package sparkpost is a small client for the SparkPost transmissions and
// webhooks REST APIs.
package sparkpost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/domain"
)

const (
	transmissionsPath = "/api/v1/transmissions"
	webhooksPath      = "/api/v1/webhooks"
	maxErrorBody      = 512
)

// Client calls the SparkPost API with a fixed API key.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a Client. baseURL is the API origin, for example
// https://api.sparkpost.com. A nil httpClient gets a 30 second timeout.
func NewClient(logger *slog.Logger, baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		logger:     logger.With("provider", "sparkpost"),
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// APIError is a non-2xx response from SparkPost.
type APIError struct {
	StatusCode int
	Errors     []ErrorDetail
	// Body is the raw response, truncated, when it had no parsable errors.
	Body string
}

// ErrorDetail is one entry of the SparkPost errors array.
type ErrorDetail struct {
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		if e.Body != "" {
			return fmt.Sprintf("sparkpost: status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("sparkpost: status %d", e.StatusCode)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		msg := d.Message
		if d.Description != "" {
			msg += " (" + d.Description + ")"
		}
		if d.Code != "" {
			msg += " [code " + d.Code + "]"
		}
		msgs = append(msgs, msg)
	}
	return fmt.Sprintf("sparkpost: status %d: %s", e.StatusCode, strings.Join(msgs, "; "))
}

type transmissionRequest struct {
	Recipients []recipient         `json:"recipients"`
	Content    transmissionContent `json:"content"`
}

type recipient struct {
	Address recipientAddress `json:"address"`
}

type recipientAddress struct {
	Email string `json:"email"`
}

type transmissionContent struct {
	EmailRFC822 string `json:"email_rfc822"`
}

type transmissionResponse struct {
	Results domain.TransmissionResult `json:"results"`
}

type webhooksResponse struct {
	Results []domain.Webhook `json:"results"`
}

type errorResponse struct {
	Errors []ErrorDetail `json:"errors"`
}

// SendTransmission sends a complete RFC822 message to the given recipients.
func (c *Client) SendTransmission(ctx context.Context, t domain.Transmission) (*domain.TransmissionResult, error) {
	req := transmissionRequest{
		Recipients: make([]recipient, 0, len(t.Recipients)),
		Content:    transmissionContent{EmailRFC822: t.EmailRFC822},
	}
	for _, addr := range t.Recipients {
		req.Recipients = append(req.Recipients, recipient{Address: recipientAddress{Email: addr}})
	}

	var resp transmissionResponse
	if err := c.do(ctx, http.MethodPost, transmissionsPath, req, &resp); err != nil {
		return nil, fmt.Errorf("send transmission: %w", err)
	}
	c.logger.DebugContext(ctx, "Transmission accepted", "transmission_id", resp.Results.ID)
	return &resp.Results, nil
}

// ListWebhooks returns all webhooks on the account.
func (c *Client) ListWebhooks(ctx context.Context) ([]domain.Webhook, error) {
	var resp webhooksResponse
	if err := c.do(ctx, http.MethodGet, webhooksPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return resp.Results, nil
}

// CreateWebhook registers a new webhook.
func (c *Client) CreateWebhook(ctx context.Context, reg domain.WebhookRegistration) error {
	if err := c.do(ctx, http.MethodPost, webhooksPath, reg, nil); err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		reqBytes, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(reqBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.logger.DebugContext(ctx, "Sending request to SparkPost", "method", method, "path", path)
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response (status %d): %w", httpResp.StatusCode, err)
	}
	c.logger.DebugContext(ctx, "Received response from SparkPost", "method", method, "path", path, "status_code", httpResp.StatusCode)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return newAPIError(httpResp.StatusCode, respBytes)
	}
	if out == nil || len(bytes.TrimSpace(respBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		apiErr.Errors = parsed.Errors
		return apiErr
	}
	raw := strings.TrimSpace(string(body))
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	apiErr.Body = raw
	return apiErr
}
