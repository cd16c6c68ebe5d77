// Package sms sends transactional SMS through the Africa's Talking
// messaging API. Delivery is best effort; callers treat failures as
// non-fatal.
package sms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/shule-api/pkg/config"
)

const defaultBaseURL = "https://api.africastalking.com/version1"

// Sender is the messaging surface consumed by services.
type Sender interface {
	SendPaymentConfirmation(ctx context.Context, phone, studentName string, amount decimal.Decimal, receipt string, newBalance decimal.Decimal) error
	SendFeeReminder(ctx context.Context, phone, studentName, admissionNumber string, balance decimal.Decimal) error
}

// Client posts messages to the Africa's Talking bulk SMS endpoint.
type Client struct {
	cfg        config.SMSConfig
	baseURL    string
	httpClient *http.Client
}

// NewClient builds an SMS client from configuration.
func NewClient(cfg config.SMSConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// SendPaymentConfirmation notifies the payer that a payment was applied.
func (c *Client) SendPaymentConfirmation(ctx context.Context, phone, studentName string, amount decimal.Decimal, receipt string, newBalance decimal.Decimal) error {
	message := fmt.Sprintf(
		"Payment received! KES %s for %s. Receipt: %s. New balance: KES %s. Thank you.",
		formatAmount(amount), studentName, receipt, formatAmount(newBalance),
	)
	return c.send(ctx, []string{phone}, message)
}

// SendFeeReminder nudges a guardian about an outstanding balance.
func (c *Client) SendFeeReminder(ctx context.Context, phone, studentName, admissionNumber string, balance decimal.Decimal) error {
	message := fmt.Sprintf(
		"Dear Parent, %s (%s) has a pending fee balance of KES %s. Please clear to avoid inconvenience. Thank you.",
		studentName, admissionNumber, formatAmount(balance),
	)
	return c.send(ctx, []string{phone}, message)
}

func (c *Client) send(ctx context.Context, to []string, message string) error {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("to", strings.Join(to, ","))
	form.Set("message", message)
	form.Set("from", c.cfg.SenderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apiKey", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send sms: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func formatAmount(d decimal.Decimal) string {
	if d.IsInteger() {
		return d.StringFixed(0)
	}
	return d.StringFixed(2)
}
