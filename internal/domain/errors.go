package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed           ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid    ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationRecipientInvalid ErrorCode = "VALIDATION_RECIPIENT_INVALID"
	ErrorCodeValidationAccountInvalid   ErrorCode = "VALIDATION_ACCOUNT_INVALID"
	ErrorCodeValidationSelfPayment      ErrorCode = "VALIDATION_SELF_PAYMENT"
	ErrorCodeValidationFrequencyInvalid ErrorCode = "VALIDATION_FREQUENCY_INVALID"
	ErrorCodeValidationBatchEmpty       ErrorCode = "VALIDATION_BATCH_EMPTY"
	ErrorCodeValidationBatchTooLarge    ErrorCode = "VALIDATION_BATCH_TOO_LARGE"
	ErrorCodeValidationBalanceOverflow  ErrorCode = "VALIDATION_BALANCE_OVERFLOW"

	// Authentication & Authorization Errors (AUTH_*)
	ErrorCodeAuthMissing  ErrorCode = "AUTH_MISSING"
	ErrorCodeAuthInvalid  ErrorCode = "AUTH_INVALID"
	ErrorCodeAuthNotOwner ErrorCode = "AUTH_NOT_OWNER"

	// Lookup Errors
	ErrorCodeSubscriptionNotFound ErrorCode = "SUBSCRIPTION_NOT_FOUND"

	// State Errors (STATE_*)
	ErrorCodeNotDue              ErrorCode = "STATE_NOT_DUE"
	ErrorCodeNotActive           ErrorCode = "STATE_NOT_ACTIVE"
	ErrorCodeNotPaused           ErrorCode = "STATE_NOT_PAUSED"
	ErrorCodeAlreadyCancelled    ErrorCode = "STATE_ALREADY_CANCELLED"
	ErrorCodeReentrantInvocation ErrorCode = "STATE_REENTRANT_INVOCATION"

	// Resource Errors (RESOURCE_*)
	ErrorCodeInsufficientBalance ErrorCode = "RESOURCE_INSUFFICIENT_BALANCE"
	ErrorCodeTransferFailed      ErrorCode = "RESOURCE_TRANSFER_FAILED"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// ErrorCategory groups error codes the way callers react to them.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryState         ErrorCategory = "state"
	CategoryResource      ErrorCategory = "resource"
	CategoryInternal      ErrorCategory = "internal"
)

var codeCategories = map[ErrorCode]ErrorCategory{
	ErrorCodeValidationFailed:           CategoryValidation,
	ErrorCodeValidationAmountInvalid:    CategoryValidation,
	ErrorCodeValidationRecipientInvalid: CategoryValidation,
	ErrorCodeValidationAccountInvalid:   CategoryValidation,
	ErrorCodeValidationSelfPayment:      CategoryValidation,
	ErrorCodeValidationFrequencyInvalid: CategoryValidation,
	ErrorCodeValidationBatchEmpty:       CategoryValidation,
	ErrorCodeValidationBatchTooLarge:    CategoryValidation,
	ErrorCodeValidationBalanceOverflow:  CategoryValidation,

	ErrorCodeAuthMissing:  CategoryAuthorization,
	ErrorCodeAuthInvalid:  CategoryAuthorization,
	ErrorCodeAuthNotOwner: CategoryAuthorization,

	ErrorCodeSubscriptionNotFound: CategoryNotFound,

	ErrorCodeNotDue:              CategoryState,
	ErrorCodeNotActive:           CategoryState,
	ErrorCodeNotPaused:           CategoryState,
	ErrorCodeAlreadyCancelled:    CategoryState,
	ErrorCodeReentrantInvocation: CategoryState,

	ErrorCodeInsufficientBalance: CategoryResource,
	ErrorCodeTransferFailed:      CategoryResource,

	ErrorCodeInternalError: CategoryInternal,
	ErrorCodeDatabaseError: CategoryInternal,
}

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

// Is matches any DomainError carrying the same code, so errors.Is(err, ErrNotDue)
// holds for wrapped copies of the sentinel.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of the error with an added detail field.
// Sentinels are shared, so they are never mutated in place.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{Code: e.Code, Message: e.Message, Err: e.Err, Details: details}
}

// Wrap returns a copy of the error carrying cause as its underlying error.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Err: cause, Details: e.Details}
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
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

// CategoryOf classifies an error. Anything that is not a DomainError is internal.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	return CategoryOfCode(GetErrorCode(err))
}

// CategoryOfCode classifies an error code. Unknown codes are internal.
func CategoryOfCode(code ErrorCode) ErrorCategory {
	if category, ok := codeCategories[code]; ok {
		return category
	}
	return CategoryInternal
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return CategoryOf(err) == CategoryValidation
}

// IsAuthError checks if an error is authentication/authorization related
func IsAuthError(err error) bool {
	return CategoryOf(err) == CategoryAuthorization
}

// IsStateError checks if an error was caused by the subscription's lifecycle state
func IsStateError(err error) bool {
	return CategoryOf(err) == CategoryState
}

// IsResourceError checks if an error was caused by funds or the transfer primitive
func IsResourceError(err error) bool {
	return CategoryOf(err) == CategoryResource
}

var (
	ErrValidationFailed = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrAmountInvalid    = NewDomainError(ErrorCodeValidationAmountInvalid, "amount must be greater than zero")
	ErrRecipientInvalid = NewDomainError(ErrorCodeValidationRecipientInvalid, "recipient must not be the zero address")
	ErrAccountInvalid   = NewDomainError(ErrorCodeValidationAccountInvalid, "account must not be the zero address")
	ErrSelfPayment      = NewDomainError(ErrorCodeValidationSelfPayment, "recipient must differ from payer")
	ErrFrequencyInvalid = NewDomainError(ErrorCodeValidationFrequencyInvalid, "unrecognized payment frequency")
	ErrBatchEmpty       = NewDomainError(ErrorCodeValidationBatchEmpty, "batch must contain at least one subscription id")
	ErrBatchTooLarge    = NewDomainError(ErrorCodeValidationBatchTooLarge, "batch exceeds the maximum size")
	ErrBalanceOverflow  = NewDomainError(ErrorCodeValidationBalanceOverflow, "balance would overflow")

	ErrAuthMissing = NewDomainError(ErrorCodeAuthMissing, "caller identity required")
	ErrAuthInvalid = NewDomainError(ErrorCodeAuthInvalid, "invalid caller credentials")
	ErrNotOwner    = NewDomainError(ErrorCodeAuthNotOwner, "caller is not permitted to act on this resource")

	ErrSubscriptionNotFound = NewDomainError(ErrorCodeSubscriptionNotFound, "subscription not found")

	ErrNotDue              = NewDomainError(ErrorCodeNotDue, "payment is not due yet")
	ErrNotActive           = NewDomainError(ErrorCodeNotActive, "subscription is not active")
	ErrNotPaused           = NewDomainError(ErrorCodeNotPaused, "subscription is not paused")
	ErrAlreadyCancelled    = NewDomainError(ErrorCodeAlreadyCancelled, "subscription is already cancelled")
	ErrReentrantInvocation = NewDomainError(ErrorCodeReentrantInvocation, "invocation already in progress")

	ErrInsufficientBalance = NewDomainError(ErrorCodeInsufficientBalance, "insufficient escrow balance")
	ErrTransferFailed      = NewDomainError(ErrorCodeTransferFailed, "transfer failed")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
