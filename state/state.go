// Package state defines the finite-state contract a single payment
// attempt moves through. The orchestrator drives every transition through
// Transition so an attempt can never, for example, sign a payment before
// policy approval.
package state

import (
	"fmt"

	"github.com/prompthash/paygate/types"
)

// State of one payment attempt.
type State string

const (
	Idle                 State = "idle"
	Requesting           State = "requesting"
	PaymentRequired      State = "payment_required"
	PolicyChecked        State = "policy_checked"
	AwaitingConfirmation State = "awaiting_confirmation"
	Paying               State = "paying"
	Settled              State = "settled"
	Failed               State = "failed"
)

// Event advancing a payment attempt.
type Event string

const (
	Start                   Event = "start"
	PaymentRequiredReceived Event = "payment_required_received"
	PolicyOK                Event = "policy_ok"
	Confirm                 Event = "confirm"
	Submit                  Event = "submit"
	SettleOK                Event = "settle_ok"
	Error                   Event = "error"
)

var transitions = map[State]map[Event]State{
	Idle: {Start: Requesting},
	Requesting: {
		PaymentRequiredReceived: PaymentRequired,
		Error:                   Failed,
	},
	PaymentRequired: {
		PolicyOK: PolicyChecked,
		Error:    Failed,
	},
	PolicyChecked: {
		Confirm: AwaitingConfirmation,
		Error:   Failed,
	},
	AwaitingConfirmation: {
		Submit: Paying,
		Error:  Failed,
	},
	Paying: {
		SettleOK: Settled,
		Error:    Failed,
	},
	// Settled and Failed are terminal.
	Settled: {},
	Failed:  {},
}

// Transition returns the next state for (current, event), or an
// INVALID_STATE_TRANSITION error for any pair not in the table. Such an
// error is a programming contract violation, not a recoverable condition.
func Transition(current State, event Event) (State, error) {
	next, ok := transitions[current][event]
	if !ok {
		return current, types.NewError(
			types.ErrInvalidStateTransition,
			fmt.Sprintf("invalid payment state transition: %s -> %s", current, event),
			nil,
		)
	}
	return next, nil
}

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s State) String() string { return string(s) }
