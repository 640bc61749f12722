package lotmint

import (
	"errors"
	"fmt"
)

// Error represents a mint-specific failure with a stable machine-readable code.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodePoolExhausted           = "pool_exhausted"
	ErrCodeInvalidRange            = "invalid_range"
	ErrCodeRangeOverlap            = "range_overlap"
	ErrCodeUnauthorized            = "unauthorized"
	ErrCodeAlreadyInitialized      = "already_initialized"
	ErrCodeNotInitialized          = "not_initialized"
	ErrCodeInsufficientAllowance   = "insufficient_allowance"
	ErrCodeInsufficientBalance     = "insufficient_balance"
	ErrCodeInsufficientOracleFunds = "insufficient_oracle_funds"
	ErrCodeUnknownRequest          = "unknown_request"
	ErrCodeUnauthorizedCaller      = "unauthorized_caller"
	ErrCodeInvalidQuantity         = "invalid_quantity"
	ErrCodePriceNotSet             = "price_not_set"
	ErrCodeInvalidRandomness       = "invalid_randomness"
	ErrCodeDuplicateRequest        = "duplicate_request"
	ErrCodeInvalidPrice            = "invalid_price"
	ErrCodeStorage                 = "storage_failure"
	ErrCodeUnknownToken            = "unknown_token"
)

// NewError creates a new mint error
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// IsCode reports whether err (or anything it wraps) is a mint error carrying
// the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
