package engine

import (
	"errors"
	"fmt"
)

// Error is the engine's error taxonomy.
//
// Error codes:
//   - STORAGE_UNAVAILABLE: local persistence failed
//   - TRANSPORT_RETRYABLE: network error or timeout, item stays queued
//   - TRANSPORT_FATAL: server rejected the action, item parked in Error
//   - POLICY_CONFLICT: a network update that changes nothing (informational)
//
// Transport errors never reach callers of SyncIDs/SyncAll as return values;
// they are listed per item in SyncReport.Errors.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// ItemID identifies the affected action, if any.
	ItemID string `json:"itemId,omitempty"`

	// ServerErrorID is the server-side log id of a rejection, if provided.
	ServerErrorID string `json:"serverErrorId,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeStorageUnavailable indicates local persistence failed.
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// ErrCodeTransportRetryable indicates a transient transport failure.
	ErrCodeTransportRetryable ErrorCode = "TRANSPORT_RETRYABLE"

	// ErrCodeTransportFatal indicates the server rejected the action.
	ErrCodeTransportFatal ErrorCode = "TRANSPORT_FATAL"

	// ErrCodePolicyConflict indicates an update that cannot change the state.
	ErrCodePolicyConflict ErrorCode = "POLICY_CONFLICT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ItemID != "" {
		msg += fmt.Sprintf(" (item=%s)", e.ItemID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsStorageUnavailable returns true if err is a storage failure.
// Uses errors.As to handle wrapped errors.
func IsStorageUnavailable(err error) bool {
	return hasCode(err, ErrCodeStorageUnavailable)
}

// IsRetryable returns true if err is a retryable transport failure.
func IsRetryable(err error) bool {
	return hasCode(err, ErrCodeTransportRetryable)
}

// IsFatal returns true if err is a server rejection.
func IsFatal(err error) bool {
	return hasCode(err, ErrCodeTransportFatal)
}

// IsPolicyConflict returns true if err reports a no-op network update.
func IsPolicyConflict(err error) bool {
	return hasCode(err, ErrCodePolicyConflict)
}

// NewStorageError wraps a persistence failure.
func NewStorageError(op string, err error) *Error {
	return &Error{
		Code:    ErrCodeStorageUnavailable,
		Message: op,
		Err:     err,
	}
}

// NewRetryableError records a transient transport failure for an item.
func NewRetryableError(itemID, message string, err error) *Error {
	return &Error{
		Code:    ErrCodeTransportRetryable,
		Message: message,
		ItemID:  itemID,
		Err:     err,
	}
}

// NewFatalError records a server rejection for an item.
func NewFatalError(itemID, serverErrorID, message string) *Error {
	return &Error{
		Code:          ErrCodeTransportFatal,
		Message:       message,
		ItemID:        itemID,
		ServerErrorID: serverErrorID,
	}
}

// NewPolicyConflict describes a network update that changed nothing.
func NewPolicyConflict(state string) *Error {
	return &Error{
		Code:    ErrCodePolicyConflict,
		Message: "update leaves network state unchanged: " + state,
	}
}
