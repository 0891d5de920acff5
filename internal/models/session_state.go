package models

import (
	"encoding/json"
	"fmt"
)

// StateKind identifies which member of the session state union is active
type StateKind int

const (
	StateLoading StateKind = iota
	StateAccessDenied
	StateContextReady
	StateConnecting
	StateInCall
	StateLeaveConfirmPending
	StateEnded
	StateInitError
	StatePostCallAction
)

// String returns the string representation of a state kind
func (k StateKind) String() string {
	names := [...]string{
		"loading",
		"access_denied",
		"context_ready",
		"connecting",
		"in_call",
		"leave_confirm_pending",
		"ended",
		"init_error",
		"post_call_action",
	}
	if k < 0 || int(k) >= len(names) {
		return "unknown"
	}
	return names[k]
}

// MarshalJSON encodes the kind by name so the presentation layer does not depend on ordering
func (k StateKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind from its name
func (k *StateKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for candidate := StateLoading; candidate <= StatePostCallAction; candidate++ {
		if candidate.String() == name {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state kind %q", name)
}

// Terminal reports whether no further transitions are expected from this kind
func (k StateKind) Terminal() bool {
	return k == StateAccessDenied || k == StateEnded || k == StatePostCallAction
}

// Outcome describes how a consultation ended
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeErrorAborted Outcome = "error_aborted"
)

// DenialReason is the machine-readable cause of an AccessDenied state
type DenialReason string

const (
	DenialMissingParameters    DenialReason = "missing_parameters"
	DenialDecryptFailed        DenialReason = "decrypt_failed"
	DenialIncompleteParameters DenialReason = "incomplete_parameters"
	DenialContextInvalid       DenialReason = "context_invalid"
)

// RemediationMessage is the static text shown for every AccessDenied state
const RemediationMessage = "This consultation link is invalid or has expired. Please open the link from your appointment message again or contact the clinic."

// SessionState is the tagged union held by the session state machine.
// Only the fields belonging to Kind are meaningful.
type SessionState struct {
	Kind StateKind `json:"kind"`

	// AccessDenied
	Reason      DenialReason `json:"reason,omitempty"`
	Remediation string       `json:"remediation,omitempty"`

	// Ended / PostCallAction
	Outcome Outcome `json:"outcome,omitempty"`

	// InitError, Ended(ErrorAborted)
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// PostCallAction
	PostCall *PostCallAction `json:"post_call,omitempty"`
}

// Loading is the initial state
func Loading() SessionState {
	return SessionState{Kind: StateLoading}
}

// AccessDenied builds the terminal access-denied state
func AccessDenied(reason DenialReason, message string) SessionState {
	return SessionState{
		Kind:        StateAccessDenied,
		Reason:      reason,
		Remediation: RemediationMessage,
		Message:     message,
	}
}

// ContextReady builds the context-ready state
func ContextReady() SessionState {
	return SessionState{Kind: StateContextReady}
}

// Connecting builds the connecting state
func Connecting() SessionState {
	return SessionState{Kind: StateConnecting}
}

// InCall builds the in-call state
func InCall() SessionState {
	return SessionState{Kind: StateInCall}
}

// LeaveConfirmPending builds the state shown while the end-call prompt is open
func LeaveConfirmPending() SessionState {
	return SessionState{Kind: StateLeaveConfirmPending}
}

// Ended builds an ended state with the given outcome
func Ended(outcome Outcome, message string) SessionState {
	return SessionState{Kind: StateEnded, Outcome: outcome, Message: message}
}

// InitError builds the provider initialisation error state
func InitError(message string, retryable bool) SessionState {
	return SessionState{Kind: StateInitError, Message: message, Retryable: retryable}
}

// PostCall builds the scripted post-call screen state that may follow a completed call
func PostCall(action PostCallAction) SessionState {
	return SessionState{Kind: StatePostCallAction, Outcome: OutcomeCompleted, PostCall: &action}
}
