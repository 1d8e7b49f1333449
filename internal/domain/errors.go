package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Subscription Errors (SUB_*)
	ErrorCodeSubNotFound     ErrorCode = "SUB_NOT_FOUND"
	ErrorCodeSubInvalidState ErrorCode = "SUB_INVALID_STATE"
	ErrorCodeSubNoPlan       ErrorCode = "SUB_NO_PLAN"
	ErrorCodeSubNoBillingDue ErrorCode = "SUB_NO_BILLING_DATE"

	// Ledger Errors (LEDGER_*)
	ErrorCodeLedgerDuplicateEntry ErrorCode = "LEDGER_DUPLICATE_ENTRY"
	ErrorCodeLedgerEntryInvalid   ErrorCode = "LEDGER_ENTRY_INVALID"

	// Wallet Errors (WALLET_*)
	ErrorCodeWalletNotFound     ErrorCode = "WALLET_NOT_FOUND"
	ErrorCodeWalletInsufficient ErrorCode = "WALLET_INSUFFICIENT_BALANCE"

	// Order Errors (ORDER_*)
	ErrorCodeOrderNotFound ErrorCode = "ORDER_NOT_FOUND"

	// Customer Errors (CUSTOMER_*)
	ErrorCodeCustomerNotFound ErrorCode = "CUSTOMER_NOT_FOUND"

	// Billing Job Errors (BILLING_*)
	ErrorCodeBillingLocked          ErrorCode = "BILLING_JOB_LOCKED"
	ErrorCodeBillingSettingsMissing ErrorCode = "BILLING_SETTINGS_MISSING"
	ErrorCodeBillingInvalidCycle    ErrorCode = "BILLING_INVALID_CYCLE"

	// Invoice Numbering Errors (INVNUM_*)
	ErrorCodeInvoiceSeqExhausted ErrorCode = "INVNUM_SEQUENCE_EXHAUSTED"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
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

// WithDetail returns a copy of the error with an added detail field.
// Copying keeps the package-level sentinels immutable.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{
		Err:     e.Err,
		Details: details,
		Code:    e.Code,
		Message: e.Message,
	}
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

// IsDuplicateEntry reports whether err is the typed "invoice already posted"
// result surfaced from a ledger unique-constraint collision. Billing jobs
// treat it as already-processed, never as a failure.
func IsDuplicateEntry(err error) bool {
	return IsDomainError(err, ErrorCodeLedgerDuplicateEntry)
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeSubNotFound ||
		code == ErrorCodeOrderNotFound ||
		code == ErrorCodeWalletNotFound ||
		code == ErrorCodeCustomerNotFound
}

// Structured error instances
var (
	ErrSubNotFound     = NewDomainError(ErrorCodeSubNotFound, "subscription not found")
	ErrSubInvalidState = NewDomainError(ErrorCodeSubInvalidState, "subscription is in invalid state for this operation")
	ErrSubNoPlan       = NewDomainError(ErrorCodeSubNoPlan, "subscription has no plan")

	ErrLedgerDuplicateEntry = NewDomainError(ErrorCodeLedgerDuplicateEntry, "ledger entry already exists for this period")
	ErrLedgerEntryInvalid   = NewDomainError(ErrorCodeLedgerEntryInvalid, "ledger entry is invalid")

	ErrWalletNotFound = NewDomainError(ErrorCodeWalletNotFound, "wallet not found")

	ErrOrderNotFound    = NewDomainError(ErrorCodeOrderNotFound, "order not found")
	ErrCustomerNotFound = NewDomainError(ErrorCodeCustomerNotFound, "customer not found")

	ErrBillingLocked          = NewDomainError(ErrorCodeBillingLocked, "billing job already running")
	ErrBillingSettingsMissing = NewDomainError(ErrorCodeBillingSettingsMissing, "billing settings row missing")

	ErrInvoiceSeqExhausted = NewDomainError(ErrorCodeInvoiceSeqExhausted, "invoice number sequence exhausted for year")

	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
