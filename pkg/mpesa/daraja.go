// Package mpesa wraps the Safaricom Daraja API used for school fee
// collection: STK push initiation, status queries and C2B registration.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/noah-isme/shule-api/pkg/config"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	// Tokens last 3600s; refresh five minutes early.
	tokenRefreshMargin = 5 * time.Minute
)

// Gateway is the provider surface the payment service depends on.
type Gateway interface {
	STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error)
	STKQuery(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error)
	RegisterC2BURLs(ctx context.Context, validationURL, confirmationURL string) error
}

// Client talks to the Daraja REST API.
type Client struct {
	cfg        config.MpesaConfig
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient builds a Daraja client from configuration.
func NewClient(cfg config.MpesaConfig) *Client {
	baseURL := sandboxBaseURL
	if cfg.Environment == "production" {
		baseURL = productionBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch access token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("empty access token from provider")
	}

	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Hour - tokenRefreshMargin)
	return c.accessToken, nil
}

// password derives the Lipa Na M-Pesa password for the current timestamp.
func (c *Client) password(now time.Time) (password, timestamp string) {
	timestamp = now.Format("20060102150405")
	raw := c.cfg.BusinessShortCode + c.cfg.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

// STKPush prompts the payer's phone for payment authorization.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	password, timestamp := c.password(time.Now())

	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.BusinessShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount,
		"PartyA":            req.PhoneNumber,
		"PartyB":            c.cfg.BusinessShortCode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.TransactionDesc,
	}

	var out STKPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// STKQuery fetches the current status of a pushed request.
func (c *Client) STKQuery(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	password, timestamp := c.password(time.Now())

	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.BusinessShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out STKQueryResponse
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterC2BURLs registers paybill validation and confirmation endpoints.
func (c *Client) RegisterC2BURLs(ctx context.Context, validationURL, confirmationURL string) error {
	payload := map[string]interface{}{
		"ShortCode":       c.cfg.BusinessShortCode,
		"ResponseType":    "Completed",
		"ConfirmationURL": confirmationURL,
		"ValidationURL":   validationURL,
	}
	return c.post(ctx, "/mpesa/c2b/v1/registerurl", payload, &map[string]interface{}{})
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal daraja payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build daraja request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daraja %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read daraja response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.ErrorMessage != "" {
			return fmt.Errorf("daraja %s: %s", path, apiErr.ErrorMessage)
		}
		return fmt.Errorf("daraja %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode daraja response: %w", err)
	}
	return nil
}
