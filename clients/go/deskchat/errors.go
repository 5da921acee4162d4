package deskchat

import (
	"errors"
	"fmt"
)

// ValidationError is a command rejected locally, before any network call.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// TransportError wraps a failed snapshot or command call. State is either
// degraded to empty (snapshots) or left unchanged (commands).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StaleReferenceError is a command aimed at a chat that is no longer where
// the command expects it. The roster is left unchanged.
type StaleReferenceError struct {
	Op     string
	ChatID string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("%s: chat %s not found", e.Op, e.ChatID)
}

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deskchat error %d: %s", e.Status, e.Message)
}

// IsValidation reports whether err contains a *ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransport reports whether err contains a *TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsStaleReference reports whether err contains a *StaleReferenceError.
func IsStaleReference(err error) bool {
	var target *StaleReferenceError
	return errors.As(err, &target)
}
