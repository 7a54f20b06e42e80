package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/farmgate/pkg/slogx"
)

// Notifier delivers one-time codes to the owner of an identifier. Delivery
// itself (SMS, email) is outside this service.
type Notifier interface {
	SendOTP(ctx context.Context, identifier, code string, expiresAt time.Time) error
}

// LogNotifier writes deliveries to the log. Codes are only included when
// IncludeCode is set, which is meant for local development.
type LogNotifier struct {
	Logger      *slog.Logger
	IncludeCode bool
}

func (n *LogNotifier) SendOTP(ctx context.Context, identifier, code string, expiresAt time.Time) error {
	l := n.Logger
	if l == nil {
		l = slogx.FromContext(ctx)
	}

	attrs := []any{
		"identifier", slogx.MaskIdentifier(identifier),
		"expires_at", expiresAt,
	}
	if n.IncludeCode {
		attrs = append(attrs, "code", code)
	}
	l.InfoContext(ctx, "otp issued", attrs...)
	return nil
}

const defaultWebhookTimeout = 15 * time.Second

// WebhookNotifier posts codes to an SMS gateway style HTTP endpoint.
type WebhookNotifier struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

func NewWebhookNotifier(url, apiKey string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

type webhookPayload struct {
	Route      string `json:"route"`
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
	ExpiresAt  int64  `json:"expires_at"`
}

// SendOTP does not log the code.
func (n *WebhookNotifier) SendOTP(ctx context.Context, identifier, code string, expiresAt time.Time) error {
	if n.URL == "" {
		return errors.New("notifier: webhook url not configured")
	}

	raw, err := json.Marshal(webhookPayload{
		Route:      "otp",
		Identifier: identifier,
		Code:       code,
		ExpiresAt:  expiresAt.Unix(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.APIKey != "" {
		req.Header.Set("Authorization", n.APIKey)
	}

	client := n.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notifier: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
