package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Lookup errors
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"

	// Lifecycle errors
	ErrorCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrorCodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"

	// Payment Gateway Errors (GATEWAY_*)
	ErrorCodeGatewayError    ErrorCode = "GATEWAY_ERROR"
	ErrorCodeGatewayTimeout  ErrorCode = "GATEWAY_TIMEOUT"
	ErrorCodeGatewayDeclined ErrorCode = "GATEWAY_DECLINED"

	// Inbound notification errors
	ErrorCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"

	// Authorization errors
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Validation Errors
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code, so wrapped sentinels compare equal
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	return GetErrorCode(err) == ErrorCodeNotFound
}

// IsGatewayError checks if an error is a payment gateway error
func IsGatewayError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeGatewayError ||
		code == ErrorCodeGatewayTimeout ||
		code == ErrorCodeGatewayDeclined
}

// NewInvalidTransition reports a lifecycle operation that is not allowed from the current state
func NewInvalidTransition(message string) *DomainError {
	return NewDomainError(ErrorCodeInvalidTransition, message)
}

// NewPermissionDenied reports a tenant mismatch
func NewPermissionDenied(message string) *DomainError {
	return NewDomainError(ErrorCodePermissionDenied, message)
}

// NewValidationError reports malformed input
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrorCodeValidationFailed, message)
}

// Sentinel lookup errors. Compare with errors.Is.
var (
	ErrSubscriptionNotFound = NewDomainError(ErrorCodeNotFound, "subscription not found")
	ErrPlanNotFound         = NewDomainError(ErrorCodeNotFound, "plan not found")
	ErrInvoiceNotFound      = NewDomainError(ErrorCodeNotFound, "invoice not found")
	ErrInvoiceExists        = NewDomainError(ErrorCodeValidationFailed, "invoice already recorded for charge")

	ErrSignatureInvalid = NewDomainError(ErrorCodeSignatureInvalid, "webhook signature verification failed")
	ErrGatewayDeclined  = NewDomainError(ErrorCodeGatewayDeclined, "payment declined by gateway")
	ErrGatewayTimedOut  = NewDomainError(ErrorCodeGatewayTimeout, "payment gateway timeout")
)
