package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// InitRequest is what the core asks the provider to charge.
type InitRequest struct {
	OrderID     uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// initPayload is the provider's wire format.
type initPayload struct {
	MerchantID  string `json:"merchant_id"`
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	SuccessURL  string `json:"success_url,omitempty"`
	FailureURL  string `json:"failure_url,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
	Signature   string `json:"signature"`
}

type initResponse struct {
	PaymentURL string `json:"payment_url"`
}

// Client initiates payments with the provider.
type Client struct {
	BaseURL     string
	MerchantID  string
	APIKey      string
	SecretKey   string
	AppURL      string
	CallbackURL string
	HTTPClient  *http.Client
}

// NewClient creates a new Client from gateway configuration.
func NewClient(cfg config.GatewayConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:     strings.TrimRight(cfg.APIURL, "/"),
		MerchantID:  cfg.MerchantID,
		APIKey:      cfg.APIKey,
		SecretKey:   cfg.SecretKey,
		AppURL:      strings.TrimRight(cfg.AppURL, "/"),
		CallbackURL: cfg.CallbackURL,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

// InitPayment posts a signed initiation request and returns the redirect
// URL. Any transport or provider failure wraps model.ErrGateway.
func (c *Client) InitPayment(ctx context.Context, req InitRequest) (string, error) {
	if c.MerchantID == "" || c.APIKey == "" || c.SecretKey == "" {
		return "", fmt.Errorf("%w: gateway credentials not configured", model.ErrGateway)
	}

	orderID := req.OrderID.String()
	amount := req.Amount.String()
	payload := initPayload{
		MerchantID:  c.MerchantID,
		OrderID:     orderID,
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		CallbackURL: c.CallbackURL,
		Signature:   InitSignature(c.MerchantID, orderID, amount, c.SecretKey),
	}
	if c.AppURL != "" {
		payload.SuccessURL = c.AppURL + "/dashboard?payment=success"
		payload.FailureURL = c.AppURL + "/dashboard?payment=failure"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payments/init", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrGateway, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", model.ErrGateway, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("order_id", orderID).
			Str("body", string(respBody)).
			Msg("Payment gateway rejected initiation")
		return "", fmt.Errorf("%w: provider returned status %d", model.ErrGateway, resp.StatusCode)
	}

	var out initResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("%w: invalid response body: %v", model.ErrGateway, err)
	}
	if out.PaymentURL == "" {
		return "", fmt.Errorf("%w: response has no payment_url", model.ErrGateway)
	}

	log.Info().Str("order_id", orderID).Msg("Payment initiated")
	return out.PaymentURL, nil
}
