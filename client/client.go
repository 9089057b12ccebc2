// Package client drives one protected HTTP request through the full
// payment negotiation: challenge, policy check, user confirmation,
// typed-data signing, bounded retry, and settlement bookkeeping.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/prompthash/paygate/eip712"
	"github.com/prompthash/paygate/ledger"
	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/metrics"
	"github.com/prompthash/paygate/policy"
	"github.com/prompthash/paygate/signer"
	"github.com/prompthash/paygate/state"
	"github.com/prompthash/paygate/types"
)

// DefaultBaseRetryDelay scales the linear backoff between attempts.
const DefaultBaseRetryDelay = 250 * time.Millisecond

// ConfirmationContext is what the caller sees before approving a
// payment.
type ConfirmationContext struct {
	AmountAtomic string
	Asset        string
	Network      types.Network
}

// ConfirmFunc asks the caller to approve the proposed payment. A false
// result aborts the attempt with USER_DECLINED_CONFIRMATION.
type ConfirmFunc func(ctx context.Context, c ConfirmationContext) (bool, error)

// Request describes the protected call. Body is kept as bytes so the
// request can be replayed on resubmission and retries.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Result is the structured outcome of one payment attempt. It carries
// enough for the caller layer to build an audit receipt whatever the
// outcome.
type Result struct {
	Response            *http.Response
	Settlement          *types.SettlementReceipt
	State               state.State
	SelectedRequirement *types.PaymentRequirements
	RequestID           string
}

// Orchestrator owns the client side of the payment protocol. Safe for
// concurrent use; each Submit call tracks its own attempt state.
type Orchestrator struct {
	httpClient *http.Client
	policy     *policy.Engine
	ledger     ledger.Store
	log        logger.Logger
	metrics    metrics.Recorder
	timeout    time.Duration
	retryCount int
	baseDelay  time.Duration
}

// New creates an orchestrator around a policy engine and a daily-spend
// ledger.
func New(policyEngine *policy.Engine, ledgerStore ledger.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		httpClient: &http.Client{},
		policy:     policyEngine,
		ledger:     ledgerStore,
		log:        logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
		timeout:    15 * time.Second,
		retryCount: 2,
		baseDelay:  DefaultBaseRetryDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit performs the protected request, negotiating payment when the
// server demands one. The returned Result is non-nil even on failure so
// the caller can persist an audit receipt for the attempt.
func (o *Orchestrator) Submit(ctx context.Context, sgn signer.Signer, req *Request, confirm ConfirmFunc) (*Result, error) {
	started := time.Now()
	res := &Result{State: state.Idle, RequestID: o.requestID(req)}
	callerAddress := sgn.Address()

	fail := func(err error) (*Result, error) {
		res.State = o.advance(res.State, state.Error)
		return res, err
	}

	var err error
	if res.State, err = state.Transition(res.State, state.Start); err != nil {
		return res, err
	}

	resp, err := o.doWithRetry(ctx, req, res.RequestID, callerAddress, "")
	if err != nil {
		return fail(err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		// Nothing to pay; hand the response back as-is.
		res.Response = resp
		return res, nil
	}

	challenge, err := readChallenge(resp)
	if err != nil {
		return fail(types.NewError(types.ErrInvalidRequirements, "unreadable payment challenge", err))
	}
	if res.State, err = state.Transition(res.State, state.PaymentRequiredReceived); err != nil {
		return res, err
	}

	selected, err := selectRequirement(challenge)
	if err != nil {
		return fail(err)
	}
	res.SelectedRequirement = selected

	// Policy rejection is definitive for this attempt; no retry.
	spendKey := policy.DailySpendKey(callerAddress, time.Now())
	dailySpent, err := o.ledger.Get(ctx, spendKey)
	if err != nil {
		return fail(types.NewError(types.ErrUnexpectedError, "failed to read daily spend", err))
	}
	decision, err := o.policy.Evaluate(selected.Asset, selected.Amount, dailySpent)
	if err != nil {
		return fail(err)
	}
	if !decision.Allowed {
		o.metrics.IncCounter(metrics.EventPolicyRejected, map[string]string{"network": selected.Network.String()})
		o.log.Warn("payment rejected by spend policy", map[string]any{
			"reason": decision.Reason.String(),
			"asset":  selected.Asset,
			"amount": selected.Amount,
		})
		return fail(types.NewReasonError(types.ErrPolicyRejected, decision.Reason, decision.Message))
	}
	if res.State, err = state.Transition(res.State, state.PolicyOK); err != nil {
		return res, err
	}

	if res.State, err = state.Transition(res.State, state.Confirm); err != nil {
		return res, err
	}
	approved, err := confirm(ctx, ConfirmationContext{
		AmountAtomic: selected.Amount,
		Asset:        selected.Asset,
		Network:      selected.Network,
	})
	if err != nil {
		return fail(types.NewError(types.ErrUnexpectedError, "confirmation callback failed", err))
	}
	if !approved {
		return fail(types.NewReasonError(types.ErrUserDeclined, types.ReasonUserDeclined,
			"caller declined the payment"))
	}

	if res.State, err = state.Transition(res.State, state.Submit); err != nil {
		return res, err
	}
	paymentHeader, err := o.signPayment(sgn, selected)
	if err != nil {
		return fail(types.NewError(types.ErrUnexpectedError, "failed to sign payment", err))
	}

	resp, err = o.doWithRetry(ctx, req, res.RequestID, callerAddress, paymentHeader)
	if err != nil {
		return fail(err)
	}
	res.Response = resp

	if header := resp.Header.Get(types.HeaderPaymentResponse); header != "" {
		settlement, err := types.DecodeSettlementReceipt(header)
		if err != nil {
			o.log.Warn("undecodable settlement receipt header", map[string]any{"error": err.Error()})
		} else {
			res.Settlement = settlement
		}
	}

	if res.Settlement != nil && res.Settlement.Success {
		if res.State, err = state.Transition(res.State, state.SettleOK); err != nil {
			return res, err
		}
		// The ledger moves only on confirmed settlement.
		spent, err := policy.AtomicToDecimal(selected.Amount, policy.USDCDecimals)
		if err == nil {
			if _, lerr := o.ledger.IncrBy(ctx, spendKey, spent); lerr != nil {
				o.log.Error("failed to update daily-spend ledger", map[string]any{"error": lerr.Error()})
			}
		}
		o.metrics.IncCounter(metrics.EventSettled, map[string]string{"network": selected.Network.String()})
	}

	o.metrics.ObserveLatency(metrics.OpPaidRequest, time.Since(started),
		map[string]string{"network": selected.Network.String()})
	return res, nil
}

// doWithRetry performs one logical request with a per-attempt deadline
// and a linear backoff between attempts. Transport failures and
// timeouts are retried up to the configured count; the last error is
// surfaced when the budget is exhausted.
func (o *Orchestrator) doWithRetry(ctx context.Context, req *Request, requestID, walletAddress, paymentHeader string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= o.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, types.NewReasonError(types.ErrRequestTimeout, types.ReasonRequestTimeout, "request cancelled")
			case <-time.After(o.baseDelay * time.Duration(attempt)):
			}
		}

		resp, err := o.doOnce(ctx, req, requestID, walletAddress, paymentHeader)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		o.log.Debug("transport attempt failed", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	return nil, lastErr
}

func (o *Orchestrator) doOnce(ctx context.Context, req *Request, requestID, walletAddress, paymentHeader string) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		return nil, types.NewError(types.ErrUnexpectedError, "failed to build request", err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(types.HeaderRequestID, requestID)
	httpReq.Header.Set(types.HeaderWalletAddress, walletAddress)
	if paymentHeader != "" {
		httpReq.Header.Set(types.HeaderPaymentSignature, paymentHeader)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewReasonError(types.ErrRequestTimeout, types.ReasonRequestTimeout,
				fmt.Sprintf("request exceeded %s", o.timeout))
		}
		return nil, &types.Error{
			Code: types.ErrNetworkError, Reason: types.ReasonNetworkError,
			Message: "transport failure", Cause: err,
		}
	}
	// The body must outlive the attempt deadline; release the timer once
	// the body is drained.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// signPayment builds and signs the exact-scheme transfer authorization
// for the selected requirement.
func (o *Orchestrator) signPayment(sgn signer.Signer, req *types.PaymentRequirements) (string, error) {
	domain, err := eip712.DomainForRequirements(req)
	if err != nil {
		return "", err
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now().Unix()
	auth := types.ExactEvmAuthorization{
		From:        sgn.Address(),
		To:          req.PayTo,
		Value:       req.Amount,
		ValidAfter:  strconv.FormatInt(now-60, 10),
		ValidBefore: strconv.FormatInt(now+int64(req.MaxTimeoutSeconds), 10),
		Nonce:       "0x" + hex.EncodeToString(nonce[:]),
	}

	sig, err := sgn.SignTypedData(domain, auth)
	if err != nil {
		return "", err
	}

	return types.EncodePaymentPayload(&types.PaymentPayload{
		X402Version: types.ProtocolVersion,
		Accepted:    *req,
		Payload:     &types.ExactEvmPayload{Authorization: auth, Signature: sig},
	})
}

// advance applies an error transition, tolerating terminal states so a
// failure after settlement does not mask the original error.
func (o *Orchestrator) advance(current state.State, event state.Event) state.State {
	next, err := state.Transition(current, event)
	if err != nil {
		return current
	}
	return next
}

func (o *Orchestrator) requestID(req *Request) string {
	if id := req.Header.Get(types.HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// readChallenge extracts the challenge from the PAYMENT-REQUIRED header,
// falling back to the response body.
func readChallenge(resp *http.Response) (*types.ChallengeResponse, error) {
	defer resp.Body.Close()

	if header := resp.Header.Get(types.HeaderPaymentRequired); header != "" {
		if challenge, err := types.DecodeChallenge(header); err == nil {
			return challenge, nil
		}
	}

	var challenge types.ChallengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// selectRequirement picks the first exact-scheme requirement the server
// accepts.
func selectRequirement(challenge *types.ChallengeResponse) (*types.PaymentRequirements, error) {
	for i := range challenge.Accepts {
		if challenge.Accepts[i].Scheme == types.SchemeExact {
			req := challenge.Accepts[i]
			return &req, nil
		}
	}
	return nil, types.NewError(types.ErrInvalidRequirements,
		"challenge offers no supported payment scheme", nil)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
