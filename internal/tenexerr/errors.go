// Package tenexerr defines the error taxonomy shared across the runtime.
// Errors are classified by kind rather than by type: each kind maps to one
// documented handling policy (fatal, drop-with-log, fallback, capture,
// in-band, record-and-continue, diagnose), so callers branch on the kind
// and never on error strings.
package tenexerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for handling and monitoring.
type Kind string

const (
	// KindConfiguration marks missing or invalid configuration, such as an
	// unknown LLM profile or an absent project signer. Fatal for the run.
	KindConfiguration Kind = "configuration"

	// KindProtocol marks malformed inbound events. The event is dropped
	// with a log; it is only left unprocessed when the failure is transient.
	KindProtocol Kind = "protocol"

	// KindPlanning marks analyser failures: the planning LLM call failed or
	// produced unrepairable JSON. Triggers the deterministic fallback team.
	KindPlanning Kind = "planning"

	// KindProvider marks a failed LLM call. Propagates to the invoking
	// strategy as a captured per-agent error.
	KindProvider Kind = "provider"

	// KindTool marks invalid tool arguments, execution failures and
	// timeouts. Delivered in-band as an "Error: ..." tool message; never
	// aborts the surrounding turn.
	KindTool Kind = "tool"

	// KindPartialFailure marks individual member failures a strategy
	// recorded while continuing the run.
	KindPartialFailure Kind = "partial_failure"

	// KindPersistence marks store I/O failures. The run is marked
	// unsuccessful and a diagnostic is published; in-memory state is kept
	// so a retry can reuse it.
	KindPersistence Kind = "persistence"
)

// Error is a classified runtime error.
type Error struct {
	// Kind selects the handling policy.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error

	// Transient marks protocol errors that should not consume the event.
	Transient bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause so errors.Is and errors.As work.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Configuration creates a configuration error.
func Configuration(message string, err error) *Error {
	return New(KindConfiguration, message, err)
}

// Protocol creates a protocol error for a malformed inbound event.
func Protocol(message string, err error) *Error {
	return New(KindProtocol, message, err)
}

// TransientProtocol creates a protocol error that must not consume the
// event, so a redelivery can succeed.
func TransientProtocol(message string, err error) *Error {
	e := New(KindProtocol, message, err)
	e.Transient = true
	return e
}

// Planning creates a planning error.
func Planning(message string, err error) *Error {
	return New(KindPlanning, message, err)
}

// Provider creates a provider error.
func Provider(message string, err error) *Error {
	return New(KindProvider, message, err)
}

// Tool creates a tool error.
func Tool(message string, err error) *Error {
	return New(KindTool, message, err)
}

// PartialFailure creates a partial-failure record for one team member.
func PartialFailure(agent string, err error) *Error {
	return New(KindPartialFailure, fmt.Sprintf("agent %s failed", agent), err)
}

// Persistence creates a persistence error.
func Persistence(message string, err error) *Error {
	return New(KindPersistence, message, err)
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// an empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether the error chain carries a transient marker.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}
