package safepay

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt indicates a payment is being dispatched.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess indicates a payment settled successfully.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure indicates a payment was rejected or failed.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent represents a payment lifecycle event emitted by the
// dispatcher for logging and monitoring.
type PaymentEvent struct {
	// Type is the event type (attempt, success, failure).
	Type PaymentEventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// IntentID is the intent identifier being dispatched.
	IntentID string

	// PaymentType is the intent variant.
	PaymentType PaymentType

	// Amount is the total amount in decimal token units.
	Amount float64

	// Currency is the token symbol.
	Currency string

	// Payer is the canonical payer address.
	Payer string

	// Recipient is the canonical recipient address, or "multiple".
	Recipient string

	// Transaction is the rail transaction hash (available on success).
	Transaction string

	// Error contains error details (available on failure).
	Error error

	// Duration is the time taken for the dispatch attempt.
	Duration time.Duration
}

// PaymentCallback is a function that handles payment events. Callbacks
// are invoked synchronously during dispatch, so they should be fast to
// avoid blocking the payment flow.
type PaymentCallback func(PaymentEvent)
