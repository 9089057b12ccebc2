package types

import "fmt"

// Error codes
const (
	ErrPolicyRejected         = "POLICY_REJECTED"
	ErrUserDeclined           = "USER_DECLINED"
	ErrRequestTimeout         = "REQUEST_TIMEOUT"
	ErrNetworkError           = "NETWORK_ERROR"
	ErrVerifyFailed           = "VERIFY_FAILED"
	ErrSettleFailed           = "SETTLE_FAILED"
	ErrUnexpectedError        = "UNEXPECTED_ERROR"
	ErrInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrInvalidPayload         = "INVALID_PAYLOAD"
	ErrInvalidRequirements    = "INVALID_REQUIREMENTS"
	ErrConfigError            = "CONFIG_ERROR"
)

// Error is the typed error used across the module. Reason carries the
// registry code a receipt for this failure would record.
type Error struct {
	Code    string
	Message string
	Reason  ReasonCode
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a typed error without an attached reason code.
func NewError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewReasonError creates a typed error carrying a registry reason code.
func NewReasonError(code string, reason ReasonCode, message string) *Error {
	return &Error{Code: code, Message: message, Reason: reason}
}

// CodeOf extracts the error code, or ErrUnexpectedError for foreign errors.
func CodeOf(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ErrUnexpectedError
}

// ReasonOf extracts the reason code carried by err, defaulting to
// UNEXPECTED_ERROR so receipts never record an empty reason.
func ReasonOf(err error) ReasonCode {
	if e, ok := err.(*Error); ok && e.Reason != "" {
		return e.Reason
	}
	return ReasonUnexpectedError
}
