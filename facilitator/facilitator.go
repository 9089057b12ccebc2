// Package facilitator talks to the external service trusted to verify
// signed payment payloads and execute their on-chain settlement.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prompthash/paygate/types"
)

// Facilitator is the narrow verify/settle capability the gateway depends
// on.
type Facilitator interface {
	Verify(ctx context.Context, payload *types.PaymentPayload) (*VerifyResult, error)
	Settle(ctx context.Context, payload *types.PaymentPayload) (*SettleResult, error)
}

// VerifyResult is the facilitator's verification verdict.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResult is the facilitator's settlement outcome.
type SettleResult struct {
	Success     bool          `json:"success"`
	Transaction string        `json:"transaction,omitempty"`
	Network     types.Network `json:"network,omitempty"`
	Payer       string        `json:"payer,omitempty"`
	ErrorReason string        `json:"errorReason,omitempty"`
}

// SupportedKind is one scheme+network pair the facilitator handles.
type SupportedKind struct {
	Scheme  string        `json:"scheme"`
	Network types.Network `json:"network"`
}

// SupportedResponse is returned by the supported endpoint.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

type request struct {
	X402Version    int                       `json:"x402Version"`
	PaymentPayload *types.PaymentPayload     `json:"paymentPayload"`
	Requirements   types.PaymentRequirements `json:"paymentRequirements"`
}

// Client is the HTTP facilitator client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a facilitator client. A zero timeout defaults to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// URL returns the facilitator base URL, recorded on receipts.
func (c *Client) URL() string { return c.baseURL }

// Verify checks a payment via POST /v2/x402/verify.
func (c *Client) Verify(ctx context.Context, payload *types.PaymentPayload) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.post(ctx, "/v2/x402/verify", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle executes a payment via POST /v2/x402/settle.
func (c *Client) Settle(ctx context.Context, payload *types.PaymentPayload) (*SettleResult, error) {
	var out SettleResult
	if err := c.post(ctx, "/v2/x402/settle", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported fetches the scheme+network pairs the facilitator handles via
// GET /v2/x402/supported.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/x402/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supported request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call facilitator supported endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("facilitator supported returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload *types.PaymentPayload, out interface{}) error {
	body, err := json.Marshal(request{
		X402Version:    payload.X402Version,
		PaymentPayload: payload,
		Requirements:   payload.Accepted,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal facilitator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create facilitator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("facilitator %s returned status %d: %s", path, resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode facilitator response: %w", err)
	}
	return nil
}
