package types

// ReasonCode classifies the outcome of a payment attempt. The same closed
// vocabulary is shared by the client orchestrator, the server gateway, and
// persisted receipts.
type ReasonCode string

const (
	ReasonPaymentRequired  ReasonCode = "PAYMENT_REQUIRED"
	ReasonPaymentSubmitted ReasonCode = "PAYMENT_SUBMITTED"
	ReasonSettled          ReasonCode = "SETTLED"
	ReasonSettleFailed     ReasonCode = "SETTLE_FAILED"
	ReasonVerifyFailed     ReasonCode = "VERIFY_FAILED"
	ReasonTokenNotAllowed  ReasonCode = "POLICY_REJECTED_TOKEN_NOT_ALLOWED"
	ReasonMaxPerTxExceeded ReasonCode = "POLICY_REJECTED_MAX_PER_TX"
	ReasonDailyCapExceeded ReasonCode = "POLICY_REJECTED_DAILY_CAP"
	ReasonUserDeclined     ReasonCode = "USER_DECLINED_CONFIRMATION"
	ReasonRequestTimeout   ReasonCode = "REQUEST_TIMEOUT"
	ReasonNetworkError     ReasonCode = "NETWORK_ERROR"
	ReasonUnexpectedError  ReasonCode = "UNEXPECTED_ERROR"
)

var knownReasons = map[ReasonCode]struct{}{
	ReasonPaymentRequired:  {},
	ReasonPaymentSubmitted: {},
	ReasonSettled:          {},
	ReasonSettleFailed:     {},
	ReasonVerifyFailed:     {},
	ReasonTokenNotAllowed:  {},
	ReasonMaxPerTxExceeded: {},
	ReasonDailyCapExceeded: {},
	ReasonUserDeclined:     {},
	ReasonRequestTimeout:   {},
	ReasonNetworkError:     {},
	ReasonUnexpectedError:  {},
}

// IsKnown reports whether the code belongs to the registry.
func (r ReasonCode) IsKnown() bool {
	_, ok := knownReasons[r]
	return ok
}

func (r ReasonCode) String() string {
	return string(r)
}

// ReceiptStatus is the lifecycle stage a receipt row records.
type ReceiptStatus string

const (
	StatusRequiresPayment  ReceiptStatus = "requires_payment"
	StatusPaymentSubmitted ReceiptStatus = "payment_submitted"
	StatusSettled          ReceiptStatus = "settled"
	StatusFailed           ReceiptStatus = "failed"
	StatusPolicyRejected   ReceiptStatus = "policy_rejected"
)

// ValidStatus reports whether s is one of the receipt lifecycle statuses.
func ValidStatus(s ReceiptStatus) bool {
	switch s {
	case StatusRequiresPayment, StatusPaymentSubmitted, StatusSettled, StatusFailed, StatusPolicyRejected:
		return true
	}
	return false
}
