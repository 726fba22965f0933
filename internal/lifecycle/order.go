// Package lifecycle implements the per-venue order state machine. One Engine
// owns all order state for one venue connection and processes commands,
// decoded push events and control-call completions on a single goroutine.
package lifecycle

import (
	"github.com/shopspring/decimal"

	"venue-gateway/pkg/instruments"
	"venue-gateway/pkg/venue/common"
)

// Status is an order's lifecycle state.
type Status string

const (
	StatusInitiated       Status = "INITIATED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusAccepted        Status = "ACCEPTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusPendingCancel   Status = "PENDING_CANCEL"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
)

// IsTerminal reports whether no further mutation is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// transitions is the legal state graph. A cancel rejection is not a state: it
// restores the order's pre-cancel status.
var transitions = map[Status]map[Status]bool{
	StatusInitiated: {StatusSubmitted: true},
	StatusSubmitted: {StatusAccepted: true, StatusRejected: true},
	StatusAccepted: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusPendingCancel:   true,
		StatusCanceled:        true,
	},
	StatusPartiallyFilled: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusPendingCancel:   true,
		StatusCanceled:        true,
	},
	StatusPendingCancel: {
		StatusCanceled:        true,
		StatusFilled:          true,
		StatusPartiallyFilled: true, // partial fill racing the cancel
		// restores after a cancel rejection
		StatusAccepted: true,
	},
}

func canTransition(from, to Status) bool {
	return transitions[from][to]
}

// order is the engine's private view of one order. Only the engine goroutine
// touches it.
type order struct {
	intent       common.OrderIntent
	instrument   instruments.Instrument
	venueOrderID string
	status       Status
	// preCancel remembers the state to restore when a cancel is rejected.
	preCancel Status
	filled    decimal.Decimal
	// cancelQueued marks a cancel requested before the venue order id
	// existed; it is issued on acceptance.
	cancelQueued bool
	// seenExecIDs dedups fills on venues that report last-trade sizes with
	// native execution ids.
	seenExecIDs map[string]bool
}

// setStatus validates and applies a transition; it returns false and leaves
// the order untouched when the transition is illegal.
func (o *order) setStatus(to Status) bool {
	if !canTransition(o.status, to) {
		return false
	}
	o.status = to
	return true
}

func (o *order) fullyFilled() bool {
	return o.filled.GreaterThanOrEqual(o.intent.Qty)
}
