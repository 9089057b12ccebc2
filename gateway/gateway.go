package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prompthash/paygate/facilitator"
	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/metrics"
	"github.com/prompthash/paygate/receipts"
	"github.com/prompthash/paygate/types"
)

// receiptWriteTimeout bounds best-effort audit writes so they can never
// stall the guarded request/response cycle.
const receiptWriteTimeout = 5 * time.Second

// Gateway guards one protected route. Read-mostly after construction;
// one instance serves all requests to its route.
type Gateway struct {
	routeKey       string
	routeCfg       types.RouteConfig
	accepts        []types.PaymentRequirements
	fac            facilitator.Facilitator
	store          receipts.Store
	log            logger.Logger
	metrics        metrics.Recorder
	facilitatorURL string
}

// Wrap returns the guarded handler for this route.
func (g *Gateway) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(types.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		walletAddress := r.Header.Get(types.HeaderWalletAddress)
		paymentHeader := r.Header.Get(types.HeaderPaymentSignature)

		// Unconditional audit row: even abandoned attempts leave a trail.
		if paymentHeader == "" {
			g.writeReceipt(&types.Receipt{
				RequestID:      requestID,
				Endpoint:       g.routeKey,
				WalletAddress:  walletAddress,
				Status:         types.StatusRequiresPayment,
				ReasonCode:     types.ReasonPaymentRequired,
				FacilitatorURL: g.facilitatorURL,
				Metadata:       map[string]interface{}{"method": r.Method},
			})
			g.metrics.IncCounter(metrics.EventChallengeIssued, g.labels())
			g.sendChallenge(w)
			return
		}

		g.writeReceipt(&types.Receipt{
			RequestID:      requestID,
			Endpoint:       g.routeKey,
			WalletAddress:  walletAddress,
			Status:         types.StatusPaymentSubmitted,
			ReasonCode:     types.ReasonPaymentSubmitted,
			FacilitatorURL: g.facilitatorURL,
			Metadata:       map[string]interface{}{"method": r.Method},
		})
		g.metrics.IncCounter(metrics.EventPaymentSubmitted, g.labels())

		payload, err := types.DecodePaymentPayload(paymentHeader)
		if err != nil {
			g.failVerification(w, requestID, walletAddress, nil, "invalid payment header: "+err.Error())
			return
		}

		// The payload carries the requirements the client signed over.
		// They must be ones this route issued; a self-authored amount or
		// payee never reaches the facilitator.
		if !g.acceptsPayload(payload) {
			g.failVerification(w, requestID, walletAddress, payload,
				"payment does not match this route's requirements")
			return
		}

		verifyStarted := time.Now()
		verdict, err := g.fac.Verify(r.Context(), payload)
		g.metrics.ObserveLatency(metrics.OpVerify, time.Since(verifyStarted),
			map[string]string{"network": payload.Accepted.Network.String()})
		if err != nil {
			g.failVerification(w, requestID, walletAddress, payload, "facilitator verify failed: "+err.Error())
			return
		}
		if !verdict.IsValid {
			g.failVerification(w, requestID, walletAddress, payload, verdict.InvalidReason)
			return
		}

		// The handler runs before settlement so its result can be
		// returned even when settlement fails: availability over strict
		// payment atomicity.
		recorder := newBufferedWriter()
		next.ServeHTTP(recorder, r)

		settleStarted := time.Now()
		settlement, err := g.fac.Settle(r.Context(), payload)
		g.metrics.ObserveLatency(metrics.OpSettle, time.Since(settleStarted),
			map[string]string{"network": payload.Accepted.Network.String()})

		switch {
		case err != nil:
			g.recordSettlement(requestID, payload, &facilitator.SettleResult{
				Success:     false,
				ErrorReason: err.Error(),
			})
		case !settlement.Success:
			g.recordSettlement(requestID, payload, settlement)
		default:
			g.recordSettlement(requestID, payload, settlement)
			if header, encErr := types.EncodeSettlementReceipt(&types.SettlementReceipt{
				Success:     true,
				Transaction: settlement.Transaction,
				Network:     payload.Accepted.Network,
				Payer:       settlement.Payer,
			}); encErr == nil {
				recorder.header.Set(types.HeaderPaymentResponse, header)
			}
		}

		recorder.flushTo(w)
	})
}

// sendChallenge issues the 402 response describing the payments this
// route accepts.
func (g *Gateway) sendChallenge(w http.ResponseWriter) {
	challenge := &types.ChallengeResponse{
		X402Version: types.ProtocolVersion,
		Message:     "Payment required to access this resource.",
		ReasonCode:  types.ReasonPaymentRequired,
		Accepts:     g.accepts,
	}

	var body interface{} = challenge
	if g.routeCfg.UnpaidBody != nil {
		body = mergeUnpaidBody(g.routeCfg.UnpaidBody(), challenge)
	}

	if header, err := types.EncodeChallenge(challenge); err == nil {
		w.Header().Set(types.HeaderPaymentRequired, header)
	}
	writeJSON(w, http.StatusPaymentRequired, body)
}

// mergeUnpaidBody lets the route supply its own message while the
// gateway guarantees the reason code and accepted requirements are
// present.
func mergeUnpaidBody(custom interface{}, challenge *types.ChallengeResponse) interface{} {
	raw, err := json.Marshal(custom)
	if err != nil {
		return challenge
	}
	merged := map[string]interface{}{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return challenge
	}
	merged["x402Version"] = challenge.X402Version
	merged["reasonCode"] = challenge.ReasonCode
	merged["accepts"] = challenge.Accepts
	return merged
}

// acceptsPayload reports whether the submitted payment targets one of
// this route's registered requirements. Addresses compare
// case-insensitively; scheme, network, and amount must match exactly.
func (g *Gateway) acceptsPayload(p *types.PaymentPayload) bool {
	for i := range g.accepts {
		a := &g.accepts[i]
		if p.Accepted.Scheme == a.Scheme &&
			p.Accepted.Network == a.Network &&
			p.Accepted.Amount == a.Amount &&
			strings.EqualFold(p.Accepted.Asset, a.Asset) &&
			strings.EqualFold(p.Accepted.PayTo, a.PayTo) {
			return true
		}
	}
	return false
}

// failVerification records the failure and rejects the request without
// invoking the wrapped handler.
func (g *Gateway) failVerification(w http.ResponseWriter, requestID, walletAddress string, payload *types.PaymentPayload, reason string) {
	receipt := &types.Receipt{
		RequestID:      requestID,
		Endpoint:       g.routeKey,
		WalletAddress:  walletAddress,
		Status:         types.StatusFailed,
		ReasonCode:     types.ReasonVerifyFailed,
		FacilitatorURL: g.facilitatorURL,
		Metadata:       map[string]interface{}{"reason": reason},
	}
	if payload != nil {
		receipt.Network = payload.Accepted.Network
		receipt.Asset = payload.Accepted.Asset
		receipt.AmountAtomic = payload.Accepted.Amount
	}
	g.writeReceipt(receipt)
	g.metrics.IncCounter(metrics.EventVerifyFailed, g.labels())

	writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
		"error":      "payment verification failed",
		"reasonCode": types.ReasonVerifyFailed,
	})
}

func (g *Gateway) recordSettlement(requestID string, payload *types.PaymentPayload, result *facilitator.SettleResult) {
	status := types.StatusSettled
	reason := types.ReasonSettled
	event := metrics.EventSettled
	if !result.Success {
		status = types.StatusFailed
		reason = types.ReasonSettleFailed
		event = metrics.EventSettleFailed
	}

	g.writeReceipt(&types.Receipt{
		RequestID:      requestID,
		Endpoint:       g.routeKey,
		WalletAddress:  result.Payer,
		Status:         status,
		ReasonCode:     reason,
		Network:        payload.Accepted.Network,
		Asset:          payload.Accepted.Asset,
		AmountAtomic:   payload.Accepted.Amount,
		TxHash:         result.Transaction,
		FacilitatorURL: g.facilitatorURL,
		Metadata:       map[string]interface{}{"errorReason": result.ErrorReason},
	})
	g.metrics.IncCounter(event, g.labels())
}

// writeReceipt is best-effort: a failed audit write is logged and
// swallowed, never surfaced into the request cycle.
func (g *Gateway) writeReceipt(r *types.Receipt) {
	ctx, cancel := context.WithTimeout(context.Background(), receiptWriteTimeout)
	defer cancel()

	if err := g.store.Write(ctx, r); err != nil {
		g.log.Error("receipt write failed", map[string]any{
			"route":  g.routeKey,
			"status": string(r.Status),
			"error":  err.Error(),
		})
	}
}

func (g *Gateway) labels() map[string]string {
	return map[string]string{
		"route":   g.routeKey,
		"network": g.routeCfg.Network.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// bufferedWriter captures the handler's response so the settlement
// receipt header can still be attached after the handler has written.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) { b.status = status }

func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	for k, vals := range b.header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.status)
	w.Write(b.body.Bytes())
}

// priceToAtomic converts a decimal USD price to USDC atomic units.
func priceToAtomic(priceUSD string) (string, error) {
	price, err := decimal.NewFromString(priceUSD)
	if err != nil || price.IsNegative() {
		return "", types.NewError(types.ErrConfigError, "invalid route price", err)
	}
	return price.Shift(6).Truncate(0).BigInt().String(), nil
}
