// Package safepay implements alias-addressed payment authorization.
//
// The package holds the shared data model: payment intents (a closed
// tagged union over single, subscription and split payments), executed
// transactions, subscriptions, and the request/response types exchanged
// with callers. Behaviour lives in the subpackages: address (canonical
// forms), registry (alias directory), authz (EIP-712 signatures),
// dispatch (the payment state machine), ledger (transaction history) and
// rail (settlement adapters).
package safepay

import (
	"math/big"
	"strconv"
	"time"
)

// PaymentType identifies a payment intent variant.
type PaymentType string

const (
	// PaymentSingle is a one-off transfer to a single recipient.
	PaymentSingle PaymentType = "single"

	// PaymentSubscription is a recurring transfer to a single recipient.
	PaymentSubscription PaymentType = "subscription"

	// PaymentSplit is a multi-recipient transfer with percentage shares.
	PaymentSplit PaymentType = "split"
)

// SplitRecipient is one leg of a split payment.
type SplitRecipient struct {
	// Alias is the recipient handle, with or without the leading "@".
	Alias string `json:"alias"`

	// Share is the recipient's percentage of the total amount (0-100).
	Share float64 `json:"share"`
}

// IntentError carries a structured parse error produced by the intent
// parser when it could not extract a complete payment action.
type IntentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PaymentIntent is a structured description of a desired payment action.
// Intents are produced externally (by the intent parser collaborator) and
// are immutable inputs; the dispatcher only adds resolved addresses.
//
// Type selects the variant; the variant-specific fields are:
//   - single: Amount, Currency, Recipient, Memo
//   - subscription: Amount, Currency, Recipient, Frequency, StartDate
//   - split: Amount, Currency, Recipients
type PaymentIntent struct {
	// Type is the payment variant discriminator.
	Type PaymentType `json:"payment_type"`

	// Amount is the total payment amount in decimal token units.
	Amount float64 `json:"amount"`

	// Currency is the token symbol (e.g. "USDC").
	Currency string `json:"currency"`

	// Recipient is the recipient alias for single and subscription intents.
	Recipient string `json:"recipient_alias,omitempty"`

	// Memo is an optional free-form note attached to single transfers.
	Memo string `json:"memo,omitempty"`

	// Frequency is the recurrence interval for subscriptions
	// (daily, weekly, monthly or yearly).
	Frequency string `json:"frequency,omitempty"`

	// StartDate is the RFC 3339 first-charge date for subscriptions.
	StartDate string `json:"start_date,omitempty"`

	// Recipients lists the legs of a split intent.
	Recipients []SplitRecipient `json:"recipients,omitempty"`

	// Confidence is the parser's confidence score in [0,1].
	Confidence float64 `json:"confidence"`

	// Error is set by the parser when the intent is incomplete.
	Error *IntentError `json:"error,omitempty"`
}

// AuthorizationRequest identifies one signed execution attempt.
// IntentID is the replay-protection nonce: one signature authorizes
// exactly one intent id, once.
type AuthorizationRequest struct {
	// IntentID is the caller-supplied unique intent identifier.
	IntentID string `json:"intent_id"`

	// FromAddress is the payer's wallet address.
	FromAddress string `json:"from_address"`

	// Signature is the hex-encoded EIP-712 signature over the intent.
	Signature string `json:"signature"`
}

// MultipleRecipients is the recorded to_address of split transactions.
const MultipleRecipients = "multiple"

// Transaction is an immutable, append-only ledger record of an executed
// transfer. Records are never edited after creation.
type Transaction struct {
	// ID is the ledger-assigned record identifier.
	ID string `json:"id"`

	// Hash is the settlement-rail transaction hash.
	Hash string `json:"transaction_hash"`

	// From is the payer's canonical address.
	From string `json:"from_address"`

	// To is the recipient's canonical address, or "multiple" for splits.
	To string `json:"to_address"`

	// Amount is the total amount in decimal token units.
	Amount float64 `json:"amount"`

	// Currency is the token symbol.
	Currency string `json:"currency"`

	// Type is the payment variant that produced this record.
	Type PaymentType `json:"payment_type"`

	// Status is the status reported by the settlement rail.
	Status string `json:"status"`

	// Memo is the optional transfer note.
	Memo string `json:"memo,omitempty"`

	// Timestamp is the record creation time.
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	// SubscriptionActive means the subscription will keep charging.
	SubscriptionActive SubscriptionStatus = "active"

	// SubscriptionCancelled means the subscription was stopped by its owner.
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is a recurring payment agreement. It is mutated only by
// the (out of scope) recurring-execution actor and by owner cancellation.
type Subscription struct {
	ID          string             `json:"id"`
	From        string             `json:"from_address"`
	To          string             `json:"to_address"`
	Amount      float64            `json:"amount"`
	Currency    string             `json:"currency"`
	Frequency   string             `json:"frequency"`
	Status      SubscriptionStatus `json:"status"`
	NextPayment time.Time          `json:"next_payment"`
	CreatedAt   time.Time          `json:"created_at"`
}

// PaymentResult is returned to the caller after a dispatch attempt and is
// the recorded idempotency result for its intent id.
type PaymentResult struct {
	Success         bool        `json:"success"`
	TransactionHash string      `json:"transaction_hash,omitempty"`
	Status          string      `json:"status,omitempty"`
	ExplorerURL     string      `json:"explorer_url,omitempty"`
	Amount          float64     `json:"amount,omitempty"`
	From            string      `json:"from_address,omitempty"`
	To              string      `json:"to_address,omitempty"`
	Type            PaymentType `json:"payment_type,omitempty"`
	SubscriptionID  string      `json:"subscription_id,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
	Error           string      `json:"error,omitempty"`
}

// FormatAmount renders a decimal amount with the shortest exact
// representation, suitable for AmountToUnits.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// AmountToUnits converts a decimal amount string to *big.Int in atomic
// token units. For example, "1.5" with 6 decimals becomes 1500000.
// Returns ErrInvalidAmount if the amount is negative, malformed, or has
// more fractional digits than the token supports.
func AmountToUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}

	value := new(big.Rat)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}

	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, scale)

	if value.Denom().Cmp(big.NewInt(1)) != 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// UnitsToAmount converts atomic token units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func UnitsToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	rat.Quo(rat, scale)

	return rat.FloatString(decimals)
}
