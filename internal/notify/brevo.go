package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flowdesk/backend/internal/resilience"
)

type BrevoConfig struct {
	APIKey      string
	BaseURL     string
	SenderName  string
	SenderEmail string
	Timeout     time.Duration
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmail struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

// BrevoMailer sends through the Brevo transactional email API. Calls go
// through a circuit breaker so an outage fails fast.
type BrevoMailer struct {
	config  BrevoConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

func NewBrevoMailer(config BrevoConfig, breaker *resilience.CircuitBreaker) *BrevoMailer {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
			Name:             "brevo",
			MaxFailures:      5,
			Timeout:          30 * time.Second,
			HalfOpenMaxCalls: 1,
		})
	}

	return &BrevoMailer{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: breaker,
	}
}

func (m *BrevoMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(brevoEmail{
		Sender:      brevoContact{Name: m.config.SenderName, Email: m.config.SenderEmail},
		To:          []brevoContact{{Name: msg.ToName, Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	return m.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.BaseURL+"/smtp/email", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("api-key", m.config.APIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("brevo request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("brevo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		}
		io.Copy(io.Discard, resp.Body)
		return nil
	})
}
