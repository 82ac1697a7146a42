// Package domain provides the canonical types shared by the interpretation
// pipeline, the credit ledger and the payment reconciler.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeValidation indicates malformed input to a public operation.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeInsufficientCredit indicates the wallet cannot cover a feature cost.
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit"

	// ErrorTypeDependencyUnavailable indicates an external collaborator
	// (generative model, payment provider) could not be reached.
	ErrorTypeDependencyUnavailable ErrorType = "dependency_unavailable"

	// ErrorTypeConflictIgnored indicates a duplicate delivery that was
	// treated as a no-op.
	ErrorTypeConflictIgnored ErrorType = "conflict_ignored"

	// ErrorTypePersistence indicates a storage layer fault.
	ErrorTypePersistence ErrorType = "persistence"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeAuthentication indicates the caller could not be identified.
	ErrorTypeAuthentication ErrorType = "authentication"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeUnknownFeature   ErrorCode = "unknown_feature"
	ErrorCodeUnknownPackage   ErrorCode = "unknown_package"
	ErrorCodeInvalidAmount    ErrorCode = "invalid_amount"
	ErrorCodeMissingField     ErrorCode = "missing_field"
	ErrorCodeInvalidSignature ErrorCode = "invalid_signature"
	ErrorCodeUpstreamStatus   ErrorCode = "upstream_status"
	ErrorCodeTimeout          ErrorCode = "timeout"
)

// Sentinel errors for errors.Is checks.
var (
	ErrInsufficientCredit   = errors.New("domain: insufficient credit")
	ErrConflictIgnored      = errors.New("domain: duplicate reference ignored")
	ErrUnknownFeature       = errors.New("domain: unknown feature")
	ErrUnknownPackage       = errors.New("domain: unknown package")
	ErrWalletNotFound       = errors.New("domain: wallet not found")
	ErrSubscriptionNotFound = errors.New("domain: subscription not found")
)

// Error is the canonical error returned across package boundaries. The
// HTTP layer renders it directly; callers classify it with errors.As.
type Error struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Field names the offending input field, if any
	Field string `json:"field,omitempty"`

	// StatusCode overrides the default HTTP status mapping
	StatusCode int `json:"-"`

	// Err is the underlying cause
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s): %s", e.Type, e.Code, msg)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Type, msg)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeInsufficientCredit:
		return http.StatusPaymentRequired
	case ErrorTypeDependencyUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeConflictIgnored:
		return http.StatusOK
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new error of the given type.
func NewError(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// WithCode adds an error code to the error.
func (e *Error) WithCode(code ErrorCode) *Error {
	e.Code = code
	return e
}

// WithField records the offending input field.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// ErrValidation creates a validation error for the named field.
func ErrValidation(field, message string) *Error {
	return NewError(ErrorTypeValidation, message).WithField(field)
}

// ErrDependencyUnavailable creates an error for an unreachable collaborator.
func ErrDependencyUnavailable(dependency string, cause error) *Error {
	return NewError(ErrorTypeDependencyUnavailable, dependency+" unavailable").Wrap(cause)
}

// ErrPersistence wraps a storage fault.
func ErrPersistence(op string, cause error) *Error {
	return NewError(ErrorTypePersistence, op).Wrap(cause)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *Error {
	return NewError(ErrorTypeNotFound, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *Error {
	return NewError(ErrorTypeAuthentication, message)
}

// InsufficientCreditError is the typed result of a debit that the wallet
// cannot cover. It is expected and frequent, so callers usually branch on
// it rather than log it.
type InsufficientCreditError struct {
	Feature  Feature
	Required int64
	Balance  int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for %s: required %d, balance %d", e.Feature, e.Required, e.Balance)
}

// Is reports whether target is ErrInsufficientCredit.
func (e *InsufficientCreditError) Is(target error) bool {
	return target == ErrInsufficientCredit
}

// AsError converts any error to a *Error. Errors that are not already
// canonical are reported as persistence faults, the only category that is
// safe to retry blindly.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	var ic *InsufficientCreditError
	if errors.As(err, &ic) {
		return NewError(ErrorTypeInsufficientCredit, ic.Error()).Wrap(err)
	}
	switch {
	case errors.Is(err, ErrUnknownFeature):
		return ErrValidation("feature", err.Error()).WithCode(ErrorCodeUnknownFeature)
	case errors.Is(err, ErrUnknownPackage):
		return ErrValidation("package_id", err.Error()).WithCode(ErrorCodeUnknownPackage)
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrSubscriptionNotFound):
		return ErrNotFound(err.Error())
	}
	return NewError(ErrorTypePersistence, "internal error").Wrap(err)
}

// TypeOf returns the ErrorType of err, or "" if err is nil.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	return AsError(err).Type
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsRetryable reports whether the caller may retry the operation that
// produced err.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeDependencyUnavailable, ErrorTypePersistence:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code for err, 200 for nil.
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return AsError(err).HTTPStatusCode()
}
