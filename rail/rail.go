// Package rail abstracts the settlement system that actually moves funds.
//
// The dispatcher is written once against the Rail interface and never
// special-cases the implementation: production binds the Circle client,
// tests and credential-less deployments bind the simulated rail.
package rail

import "context"

// TransferRequest describes a single resolved transfer.
type TransferRequest struct {
	// From is the canonical payer address.
	From string

	// To is the canonical recipient address.
	To string

	// Amount is the amount in decimal token units.
	Amount float64

	// Currency is the token symbol.
	Currency string

	// Memo is an optional transfer note.
	Memo string
}

// TransferResult is the rail's report of a completed transfer.
type TransferResult struct {
	// Hash is the rail transaction hash.
	Hash string

	// Status is the rail-reported status, recorded verbatim.
	Status string

	// RailID is the rail-internal reference identifier.
	RailID string
}

// SubscriptionRequest describes a resolved recurring payment setup.
type SubscriptionRequest struct {
	From      string
	To        string
	Amount    float64
	Currency  string
	Frequency string
	StartDate string
}

// SubscriptionResult is the rail's report of a subscription setup.
type SubscriptionResult struct {
	// SubscriptionID is the rail reference for the recurring agreement.
	SubscriptionID string

	// Hash is the transaction hash of the setup (or first) charge.
	Hash string

	// Status is the rail-reported status.
	Status string
}

// SplitLeg is one resolved leg of a split payment.
type SplitLeg struct {
	// Address is the canonical recipient address.
	Address string

	// Amount is this leg's amount in decimal token units.
	Amount float64

	// Share is this leg's percentage of the total.
	Share float64
}

// SplitRequest describes a resolved multi-recipient payment.
type SplitRequest struct {
	From        string
	Legs        []SplitLeg
	TotalAmount float64
	Currency    string
	Memo        string
}

// SplitResult is the rail's report of a completed split payment.
type SplitResult struct {
	Hash           string
	Status         string
	RecipientCount int
}

// Rail is the abstract capability to move funds. Implementations must
// honor context cancellation and deadlines; the dispatcher always calls
// with a bounded timeout.
type Rail interface {
	// SendPayment executes a single transfer.
	SendPayment(ctx context.Context, req TransferRequest) (*TransferResult, error)

	// CreateSubscription sets up a recurring payment.
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error)

	// SplitPayment executes a multi-recipient transfer.
	SplitPayment(ctx context.Context, req SplitRequest) (*SplitResult, error)
}
