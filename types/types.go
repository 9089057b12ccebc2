// Package types holds the wire and domain types shared by the client
// orchestrator, the server gateway, and the receipt stores.
package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is the x402 protocol revision this module speaks.
const ProtocolVersion = 2

// SchemeExact is the only settlement scheme supported: a signed
// transfer authorization over an exact atomic amount.
const SchemeExact = "exact"

// HTTP header names carrying payment material.
const (
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"

	// Correlation headers supplied by the client alongside a payment.
	HeaderRequestID     = "X-Request-Id"
	HeaderWalletAddress = "X-Wallet-Address"
)

// PaymentRequirements describes one acceptable payment for a challenge.
// Immutable once issued by the gateway.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme" validate:"required"`
	Network           Network                `json:"network" validate:"required"`
	Amount            string                 `json:"amount" validate:"required"` // atomic units, decimal integer string
	Asset             string                 `json:"asset" validate:"required"`  // token contract address
	PayTo             string                 `json:"payTo" validate:"required"`  // recipient address
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// Validate checks the fields a facilitator call depends on.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}
	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}
	if pr.Amount == "" {
		return fmt.Errorf("paymentRequirements.amount is required")
	}
	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}
	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}
	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must be greater than 0")
	}
	return nil
}

// ExactEvmAuthorization is the EIP-3009 transfer authorization the payer
// signs. Value is the atomic amount; timestamps are unix seconds as
// decimal strings.
type ExactEvmAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"` // bytes32 hex
}

// ExactEvmPayload is the scheme-specific payload for the exact scheme.
type ExactEvmPayload struct {
	Authorization ExactEvmAuthorization `json:"authorization"`
	Signature     string                `json:"signature"` // 65-byte ECDSA signature, hex
}

// PaymentPayload is the signed payment a client attaches to its
// resubmission via the PAYMENT-SIGNATURE header.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Accepted    PaymentRequirements `json:"accepted"`
	Payload     *ExactEvmPayload    `json:"payload"`
}

// Validate checks that the payload can be handed to a facilitator.
func (p *PaymentPayload) Validate() error {
	if p.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if p.Payload == nil {
		return fmt.Errorf("payload is required")
	}
	if p.Payload.Signature == "" {
		return fmt.Errorf("payload.signature is required")
	}
	return p.Accepted.Validate()
}

// ChallengeResponse is the 402 body issued when no valid payment is
// attached. Accepts carries every requirement the route will take.
type ChallengeResponse struct {
	X402Version int                   `json:"x402Version"`
	Message     string                `json:"message"`
	ReasonCode  ReasonCode            `json:"reasonCode"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// SettlementReceipt is the decoded PAYMENT-RESPONSE header.
type SettlementReceipt struct {
	Success     bool    `json:"success"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	ErrorReason string  `json:"errorReason,omitempty"`
}

// Receipt is one append-only audit row. Rows for a logical attempt are
// correlated by RequestID; rows are never updated in place.
type Receipt struct {
	RequestID      string                 `json:"requestId" validate:"required"`
	Endpoint       string                 `json:"endpoint" validate:"required"`
	WalletAddress  string                 `json:"walletAddress,omitempty"`
	Status         ReceiptStatus          `json:"status" validate:"required"`
	ReasonCode     ReasonCode             `json:"reasonCode" validate:"required"`
	Network        Network                `json:"network,omitempty"`
	Asset          string                 `json:"asset,omitempty"`
	AmountAtomic   string                 `json:"amountAtomic,omitempty"`
	TxHash         string                 `json:"txHash,omitempty"`
	FacilitatorURL string                 `json:"facilitatorUrl,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// RouteConfig statically describes one protected endpoint. Read-only
// after construction.
type RouteConfig struct {
	Scheme            string          `validate:"required,eq=exact"`
	Network           Network         `validate:"required"`
	PayTo             string          `validate:"required"`
	PriceUSD          string          `validate:"required"` // decimal units, e.g. "0.25"
	MaxTimeoutSeconds int             `validate:"required,gt=0"`
	Description       string
	MimeType          string
	// UnpaidBody produces the body of the challenge response. Nil falls
	// back to a generic payment-required message.
	UnpaidBody func() interface{}
}

// Header codecs ---------------------------------------------------------

// EncodePaymentPayload encodes a payload for the PAYMENT-SIGNATURE header.
func EncodePaymentPayload(p *PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentPayload decodes a PAYMENT-SIGNATURE header value.
func DecodePaymentPayload(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeSettlementReceipt encodes a receipt for the PAYMENT-RESPONSE header.
func EncodeSettlementReceipt(r *SettlementReceipt) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlementReceipt decodes a PAYMENT-RESPONSE header value.
func DecodeSettlementReceipt(header string) (*SettlementReceipt, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	var r SettlementReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &r, nil
}

// EncodeChallenge encodes the challenge for the PAYMENT-REQUIRED header.
func EncodeChallenge(c *ChallengeResponse) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeChallenge decodes a PAYMENT-REQUIRED header value.
func DecodeChallenge(header string) (*ChallengeResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	var c ChallengeResponse
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &c, nil
}
