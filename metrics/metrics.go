// Package metrics is the instrumentation seam for paygate. The gateway
// and client orchestrator record counters and latencies through the
// Recorder interface.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event and operation names recorded across the module.
const (
	EventChallengeIssued  = "challenge_issued"
	EventPaymentSubmitted = "payment_submitted"
	EventVerifyFailed     = "verify_failed"
	EventSettled          = "settled"
	EventSettleFailed     = "settle_failed"
	EventPolicyRejected   = "policy_rejected"

	OpVerify      = "verify"
	OpSettle      = "settle"
	OpPaidRequest = "paid_request"
)
