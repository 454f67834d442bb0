package domain

import (
	"errors"
	"fmt"
)

// Authentication failures against the gateway token endpoint.
var (
	ErrInvalidCredentials = errors.New("gateway rejected client credentials")
	ErrAuthRetryExhausted = errors.New("authentication failed after forced token refresh")
)

// Reconciliation failures for inbound payment notifications.
var (
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrRecordNotFound   = errors.New("payment record not found")
	ErrMalformedPayload = errors.New("malformed notification payload")
)

// GatewayError carries a non-401 HTTP error status from the payment gateway.
// Whether it is retryable is the caller's call; 5xx generally is, 4xx is not.
type GatewayError struct {
	Status int
	Body   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the caller may safely retry with backoff.
func (e *GatewayError) Retryable() bool {
	return e.Status >= 500
}

// NetworkError wraps a transport failure or timeout talking to the gateway.
// The executor never retries these on its own.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UnexpectedResponseError marks a gateway reply that could not be decoded or
// was missing required fields.
type UnexpectedResponseError struct {
	Reason string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected gateway response: %s", e.Reason)
}

// ValidationError rejects bad input before any I/O happens.
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}
