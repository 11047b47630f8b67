package safepay

import "errors"

// Sentinel errors for payment and directory operations.
var (
	// ErrInvalidAddress indicates a malformed wallet address.
	ErrInvalidAddress = errors.New("safepay: invalid wallet address")

	// ErrInvalidAlias indicates an alias outside the allowed grammar.
	ErrInvalidAlias = errors.New("safepay: invalid alias")

	// ErrInvalidAmount indicates a malformed or negative amount.
	ErrInvalidAmount = errors.New("safepay: invalid amount")

	// ErrInvalidIntent indicates a payment intent with an unknown type or
	// missing variant fields.
	ErrInvalidIntent = errors.New("safepay: invalid payment intent")

	// ErrInvalidSplit indicates split recipient shares that do not sum to 100%.
	ErrInvalidSplit = errors.New("safepay: split shares do not sum to 100%")

	// ErrAliasTaken indicates the alias is already registered.
	ErrAliasTaken = errors.New("safepay: alias already registered")

	// ErrAddressAliased indicates the address already owns an alias.
	ErrAddressAliased = errors.New("safepay: address already has an alias")

	// ErrInvalidSignature indicates a signature that is invalid or expired.
	ErrInvalidSignature = errors.New("safepay: invalid or expired signature")

	// ErrAddressMismatch indicates the claimed address does not match the
	// authenticated request address.
	ErrAddressMismatch = errors.New("safepay: address mismatch")

	// ErrIntentInFlight indicates a duplicate submission of an intent id
	// that is still executing.
	ErrIntentInFlight = errors.New("safepay: intent is already executing")

	// ErrNotOwner indicates a destructive action attempted by a non-owner.
	ErrNotOwner = errors.New("safepay: requesting address is not the owner")

	// ErrAliasNotFound indicates an unknown alias.
	ErrAliasNotFound = errors.New("safepay: alias not found")

	// ErrRecipientNotFound indicates an unresolvable recipient alias.
	ErrRecipientNotFound = errors.New("safepay: recipient not found")

	// ErrTransactionNotFound indicates an unknown transaction hash.
	ErrTransactionNotFound = errors.New("safepay: transaction not found")

	// ErrSubscriptionNotFound indicates an unknown subscription id.
	ErrSubscriptionNotFound = errors.New("safepay: subscription not found")

	// ErrRailFailed indicates the settlement rail rejected or failed the
	// transfer.
	ErrRailFailed = errors.New("safepay: settlement rail execution failed")

	// ErrRailUnavailable indicates the settlement rail could not be reached.
	ErrRailUnavailable = errors.New("safepay: settlement rail unavailable")

	// ErrParserUnavailable indicates the intent parser could not be reached.
	ErrParserUnavailable = errors.New("safepay: intent parser unavailable")
)

// ErrorCode represents error codes for programmatic handling.
type ErrorCode string

const (
	ErrCodeInvalidAddress       ErrorCode = "invalid_address"
	ErrCodeInvalidAlias         ErrorCode = "invalid_alias"
	ErrCodeInvalidIntent        ErrorCode = "invalid_intent"
	ErrCodeInvalidSplit         ErrorCode = "invalid_split"
	ErrCodeAliasExists          ErrorCode = "alias_exists"
	ErrCodeAddressHasAlias      ErrorCode = "address_has_alias"
	ErrCodeInvalidSignature     ErrorCode = "invalid_signature"
	ErrCodeAddressMismatch      ErrorCode = "address_mismatch"
	ErrCodeIntentInFlight       ErrorCode = "intent_in_flight"
	ErrCodeNotOwner             ErrorCode = "not_owner"
	ErrCodeAliasNotFound        ErrorCode = "alias_not_found"
	ErrCodeRecipientNotFound    ErrorCode = "recipient_not_found"
	ErrCodeTransactionNotFound  ErrorCode = "transaction_not_found"
	ErrCodeSubscriptionNotFound ErrorCode = "subscription_not_found"
	ErrCodeRailFailed           ErrorCode = "rail_execution_failed"
	ErrCodeRailUnavailable      ErrorCode = "rail_unavailable"
	ErrCodeParserUnavailable    ErrorCode = "parser_unavailable"
	ErrCodeInternal             ErrorCode = "internal_error"
)

// Error provides structured error information surfaced to callers as
// {code, message}. The underlying cause is reachable through Unwrap but is
// never serialized for authorization failures.
type Error struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context (e.g. the missing alias).
	Details map[string]any

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal when err is
// not a structured Error.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}
