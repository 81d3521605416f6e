package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an event the dispatch loop could not apply.
//
// The loop logs runtime errors and keeps going; they are returned from
// Drain and Bootstrap so callers and tests can inspect them.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Event names the event kind or server event involved.
	Event string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeMalformedPayload indicates a server payload that could not be decoded.
	ErrCodeMalformedPayload RuntimeErrorCode = "MALFORMED_PAYLOAD"

	// ErrCodeInvalidSnapshot indicates a bootstrap snapshot with bad entity ids.
	ErrCodeInvalidSnapshot RuntimeErrorCode = "INVALID_SNAPSHOT"

	// ErrCodeJournal indicates an applied action could not be journaled.
	ErrCodeJournal RuntimeErrorCode = "JOURNAL_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Event != "" {
		msg = fmt.Sprintf("%s (event=%s)", msg, e.Event)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func malformed(event string, err error) *RuntimeError {
	return &RuntimeError{Code: ErrCodeMalformedPayload, Message: "cannot decode payload", Event: event, Err: err}
}

// IsMalformedPayload returns true if the error is a payload decoding error.
// Uses errors.As to handle wrapped errors.
func IsMalformedPayload(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeMalformedPayload
	}
	return false
}

// IsInvalidSnapshot returns true if the error rejects a bootstrap snapshot.
func IsInvalidSnapshot(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeInvalidSnapshot
	}
	return false
}
