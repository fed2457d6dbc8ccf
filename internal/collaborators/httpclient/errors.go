package httpclient

import (
	"errors"
	"fmt"

	"veriface/pkg/platform/sentinel"
)

// ErrorCategory is the normalized failure taxonomy for sidecar calls.
type ErrorCategory string

const (
	// ErrorTimeout means the call's context deadline passed.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData means the sidecar answered 2xx with a body we could not use.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorRejected means the sidecar refused the input (4xx).
	ErrorRejected ErrorCategory = "rejected"

	// ErrorOutage means the sidecar is unreachable or failing (transport
	// error, 5xx, 429).
	ErrorOutage ErrorCategory = "outage"

	// ErrorCircuitOpen means the call was not attempted.
	ErrorCircuitOpen ErrorCategory = "circuit_open"

	ErrorInternal ErrorCategory = "internal"
)

// CallError wraps a sidecar failure with its category. Outages and open
// circuits match sentinel.ErrUnavailable.
type CallError struct {
	Category   ErrorCategory
	Operation  string
	StatusCode int
	Message    string
	Underlying error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s [%s]", e.Operation, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *CallError) Unwrap() []error {
	var errs []error
	if e.Underlying != nil {
		errs = append(errs, e.Underlying)
	}
	switch e.Category {
	case ErrorOutage, ErrorCircuitOpen:
		errs = append(errs, sentinel.ErrUnavailable)
	case ErrorBadData:
		errs = append(errs, sentinel.ErrInvalidData)
	}
	return errs
}

// Retryable reports whether trying again later might succeed.
func (e *CallError) Retryable() bool {
	switch e.Category {
	case ErrorTimeout, ErrorOutage, ErrorCircuitOpen:
		return true
	}
	return false
}

func newCallError(category ErrorCategory, op string, status int, message string, underlying error) *CallError {
	return &CallError{
		Category:   category,
		Operation:  op,
		StatusCode: status,
		Message:    message,
		Underlying: underlying,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// CategoryOf extracts the error category from an error.
func CategoryOf(err error) ErrorCategory {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ErrorInternal
}
