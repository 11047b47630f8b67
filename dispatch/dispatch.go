// Package dispatch routes verified payment intents to the settlement
// rail.
//
// A dispatch attempt moves through Received -> RecipientsResolved ->
// Authorized -> Executed{success|failed}; validation or authorization
// failures reject early and never reach the rail. Idempotency is kept
// per intent id: the check-and-execute is made atomic with a
// compare-and-swap reservation in the store, so two concurrent retries of
// one intent produce exactly one settlement and one ledger record.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/address"
	"github.com/cudi-org/safepay/authz"
	"github.com/cudi-org/safepay/ledger"
	"github.com/cudi-org/safepay/rail"
	"github.com/cudi-org/safepay/registry"
	"github.com/cudi-org/safepay/store"
)

const (
	bucketIntents       = "intent_results"
	bucketSubscriptions = "subscriptions"
)

// SplitShareTolerance is how far the recipient shares of a split intent
// may deviate from 100% and still be accepted.
const SplitShareTolerance = 0.01

// intentRecord is the persisted idempotency state of one intent id.
type intentRecord struct {
	Status string                 `json:"status"` // "pending" or "done"
	Result *safepay.PaymentResult `json:"result,omitempty"`
}

const (
	intentPending = "pending"
	intentDone    = "done"
)

// Config collects the dispatcher's collaborators.
type Config struct {
	Registry   *registry.Registry
	Ledger     *ledger.Ledger
	Authorizer *authz.Authorizer
	Rail       rail.Rail
	Store      store.Store
	Chain      safepay.ChainConfig
	Timeouts   safepay.TimeoutConfig
	Logger     *slog.Logger

	// OnEvent, when set, receives payment lifecycle events.
	OnEvent safepay.PaymentCallback
}

// Dispatcher executes authorized payment intents.
type Dispatcher struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	auth     *authz.Authorizer
	rail     rail.Rail
	st       store.Store
	chain    safepay.ChainConfig
	timeouts safepay.TimeoutConfig
	logger   *slog.Logger
	onEvent  safepay.PaymentCallback
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := cfg.Timeouts
	if timeouts.RailTimeout == 0 {
		timeouts = safepay.DefaultTimeouts
	}
	return &Dispatcher{
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		auth:     cfg.Authorizer,
		rail:     cfg.Rail,
		st:       cfg.Store,
		chain:    cfg.Chain,
		timeouts: timeouts,
		logger:   logger,
		onEvent:  cfg.OnEvent,
	}
}

// Execute runs one dispatch attempt. authenticatedAddr is the wallet
// address asserted by the transport layer (request header); it must match
// the request's from address before any signature work happens.
//
// Re-submitting an intent id that already reached a terminal state
// returns the originally recorded result without touching the rail.
func (d *Dispatcher) Execute(ctx context.Context, req safepay.AuthorizationRequest, intent safepay.PaymentIntent, authenticatedAddr string) (*safepay.PaymentResult, error) {
	started := time.Now()

	if req.IntentID == "" {
		return nil, safepay.NewError(safepay.ErrCodeInvalidIntent, "intent_id is required", safepay.ErrInvalidIntent)
	}

	from, err := address.Normalize(req.FromAddress)
	if err != nil {
		return nil, safepay.NewError(safepay.ErrCodeInvalidAddress, "from_address must be a 0x-prefixed hex address", err)
	}

	// The claimed address must match the authenticated one before the
	// signature check even runs.
	authFrom, err := address.Normalize(authenticatedAddr)
	if err != nil || authFrom != from {
		return nil, safepay.NewError(safepay.ErrCodeAddressMismatch,
			"authenticated wallet address does not match from_address", safepay.ErrAddressMismatch)
	}

	// Fast path for replayed intent ids.
	if result, state, err := d.loadIntent(req.IntentID); err != nil {
		return nil, err
	} else if state == intentDone {
		d.logger.Info("intent replayed, returning recorded result", "intent_id", req.IntentID)
		return result, nil
	} else if state == intentPending {
		return nil, inFlight(req.IntentID)
	}

	if err := validateShape(intent); err != nil {
		return nil, err
	}

	resolved, err := d.resolveRecipients(intent)
	if err != nil {
		return nil, err
	}

	units, err := safepay.AmountToUnits(safepay.FormatAmount(intent.Amount), safepay.USDCDecimals)
	if err != nil {
		return nil, safepay.NewError(safepay.ErrCodeInvalidIntent, "amount has more precision than the token supports", err)
	}

	message := d.auth.BuildTransferMessage(req.IntentID, from, authz.BindingFor(intent, resolved.to), units, intent.Currency)
	if !d.auth.Verify(message, req.Signature, from) {
		return nil, safepay.NewError(safepay.ErrCodeInvalidSignature, "invalid or expired signature", safepay.ErrInvalidSignature)
	}

	// Atomically reserve the intent id. The loser of a concurrent race
	// observes the reservation instead of executing a second settlement.
	reserved, err := d.reserveIntent(req.IntentID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		if result, state, err := d.loadIntent(req.IntentID); err != nil {
			return nil, err
		} else if state == intentDone {
			return result, nil
		}
		return nil, inFlight(req.IntentID)
	}

	d.emit(safepay.PaymentEvent{
		Type:        safepay.PaymentEventAttempt,
		Timestamp:   time.Now().UTC(),
		IntentID:    req.IntentID,
		PaymentType: intent.Type,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		Payer:       from,
		Recipient:   resolved.recordedTo,
	})

	railCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && d.timeouts.RailTimeout > 0 {
		var cancel context.CancelFunc
		railCtx, cancel = context.WithTimeout(ctx, d.timeouts.RailTimeout)
		defer cancel()
	}

	outcome, railErr := d.executeOnRail(railCtx, from, intent, resolved)
	if railErr != nil {
		result := &safepay.PaymentResult{
			Success:   false,
			Status:    "failed",
			Type:      intent.Type,
			Amount:    intent.Amount,
			From:      from,
			To:        resolved.recordedTo,
			Timestamp: time.Now().UTC(),
			Error:     railErr.Error(),
		}
		d.finishIntent(req.IntentID, result)
		d.emit(safepay.PaymentEvent{
			Type:        safepay.PaymentEventFailure,
			Timestamp:   time.Now().UTC(),
			IntentID:    req.IntentID,
			PaymentType: intent.Type,
			Amount:      intent.Amount,
			Currency:    intent.Currency,
			Payer:       from,
			Recipient:   resolved.recordedTo,
			Error:       railErr,
			Duration:    time.Since(started),
		})
		return nil, railFailure(railErr)
	}

	tx := safepay.Transaction{
		Hash:      outcome.hash,
		From:      from,
		To:        resolved.recordedTo,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Type:      intent.Type,
		Status:    outcome.status,
		Memo:      intent.Memo,
		Timestamp: time.Now().UTC(),
	}
	if _, err := d.ledger.Append(tx); err != nil {
		// The rail already settled; the record must still reach its
		// terminal state so retries do not double-pay.
		d.logger.Error("ledger append failed after rail success", "intent_id", req.IntentID, "error", err)
	}

	if intent.Type == safepay.PaymentSubscription {
		if err := d.persistSubscription(outcome.subscriptionID, from, resolved.to, intent); err != nil {
			d.logger.Error("subscription record failed", "intent_id", req.IntentID, "error", err)
		}
	}

	result := &safepay.PaymentResult{
		Success:         true,
		TransactionHash: outcome.hash,
		Status:          outcome.status,
		Amount:          intent.Amount,
		From:            from,
		To:              resolved.recordedTo,
		Type:            intent.Type,
		SubscriptionID:  outcome.subscriptionID,
		Timestamp:       time.Now().UTC(),
	}
	if outcome.hash != "" {
		result.ExplorerURL = d.chain.ExplorerTxURL(outcome.hash)
	}
	d.finishIntent(req.IntentID, result)

	d.emit(safepay.PaymentEvent{
		Type:        safepay.PaymentEventSuccess,
		Timestamp:   time.Now().UTC(),
		IntentID:    req.IntentID,
		PaymentType: intent.Type,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		Payer:       from,
		Recipient:   resolved.recordedTo,
		Transaction: outcome.hash,
		Duration:    time.Since(started),
	})

	d.logger.Info("payment executed",
		"intent_id", req.IntentID, "type", intent.Type, "hash", outcome.hash, "status", outcome.status)
	return result, nil
}

// resolvedRecipients carries the outcome of alias resolution.
type resolvedRecipients struct {
	// to is the single recipient address (empty for splits).
	to string

	// legs are the resolved split legs (nil outside splits).
	legs []rail.SplitLeg

	// recordedTo is what the ledger records: the recipient address, or
	// "multiple" for splits.
	recordedTo string
}

func (d *Dispatcher) resolveRecipients(intent safepay.PaymentIntent) (*resolvedRecipients, error) {
	switch intent.Type {
	case safepay.PaymentSingle, safepay.PaymentSubscription:
		to, err := d.resolveAlias(intent.Recipient)
		if err != nil {
			return nil, err
		}
		return &resolvedRecipients{to: to, recordedTo: to}, nil

	case safepay.PaymentSplit:
		legs := make([]rail.SplitLeg, 0, len(intent.Recipients))
		for _, recipient := range intent.Recipients {
			addr, err := d.resolveAlias(recipient.Alias)
			if err != nil {
				return nil, err
			}
			legs = append(legs, rail.SplitLeg{
				Address: addr,
				Amount:  intent.Amount * recipient.Share / 100,
				Share:   recipient.Share,
			})
		}
		return &resolvedRecipients{legs: legs, recordedTo: safepay.MultipleRecipients}, nil

	default:
		return nil, safepay.NewError(safepay.ErrCodeInvalidIntent,
			fmt.Sprintf("unknown payment type %q", intent.Type), safepay.ErrInvalidIntent)
	}
}

// resolveAlias maps every resolution failure to RecipientNotFound so a
// split either resolves completely or rejects as a whole.
func (d *Dispatcher) resolveAlias(alias string) (string, error) {
	addr, err := d.registry.Resolve(alias)
	if err != nil {
		code := safepay.CodeOf(err)
		if code == safepay.ErrCodeAliasNotFound || code == safepay.ErrCodeInvalidAlias {
			return "", safepay.NewError(safepay.ErrCodeRecipientNotFound,
				fmt.Sprintf("recipient %s not found", address.Display(alias)), safepay.ErrRecipientNotFound).
				WithDetails("alias", alias)
		}
		return "", err
	}
	return addr, nil
}

// railOutcome normalizes the three rail result shapes.
type railOutcome struct {
	hash           string
	status         string
	subscriptionID string
}

func (d *Dispatcher) executeOnRail(ctx context.Context, from string, intent safepay.PaymentIntent, resolved *resolvedRecipients) (*railOutcome, error) {
	switch intent.Type {
	case safepay.PaymentSingle:
		result, err := d.rail.SendPayment(ctx, rail.TransferRequest{
			From:     from,
			To:       resolved.to,
			Amount:   intent.Amount,
			Currency: intent.Currency,
			Memo:     intent.Memo,
		})
		if err != nil {
			return nil, err
		}
		return &railOutcome{hash: result.Hash, status: result.Status}, nil

	case safepay.PaymentSubscription:
		result, err := d.rail.CreateSubscription(ctx, rail.SubscriptionRequest{
			From:      from,
			To:        resolved.to,
			Amount:    intent.Amount,
			Currency:  intent.Currency,
			Frequency: intent.Frequency,
			StartDate: intent.StartDate,
		})
		if err != nil {
			return nil, err
		}
		return &railOutcome{hash: result.Hash, status: result.Status, subscriptionID: result.SubscriptionID}, nil

	case safepay.PaymentSplit:
		result, err := d.rail.SplitPayment(ctx, rail.SplitRequest{
			From:        from,
			Legs:        resolved.legs,
			TotalAmount: intent.Amount,
			Currency:    intent.Currency,
			Memo:        intent.Memo,
		})
		if err != nil {
			return nil, err
		}
		return &railOutcome{hash: result.Hash, status: result.Status}, nil

	default:
		return nil, safepay.ErrInvalidIntent
	}
}

// validFrequencies are the accepted subscription recurrence intervals.
var validFrequencies = map[string]bool{
	"daily":   true,
	"weekly":  true,
	"monthly": true,
	"yearly":  true,
}

func validateShape(intent safepay.PaymentIntent) error {
	if intent.Error != nil {
		return safepay.NewError(safepay.ErrCodeInvalidIntent,
			fmt.Sprintf("intent carries a parse error: %s", intent.Error.Message), safepay.ErrInvalidIntent)
	}
	if intent.Currency == "" {
		return safepay.NewError(safepay.ErrCodeInvalidIntent, "currency is required", safepay.ErrInvalidIntent)
	}
	if intent.Amount <= 0 {
		return safepay.NewError(safepay.ErrCodeInvalidIntent, "amount must be positive", safepay.ErrInvalidAmount)
	}

	switch intent.Type {
	case safepay.PaymentSingle:
		if intent.Recipient == "" {
			return safepay.NewError(safepay.ErrCodeInvalidIntent, "recipient alias is required", safepay.ErrInvalidIntent)
		}

	case safepay.PaymentSubscription:
		if intent.Recipient == "" {
			return safepay.NewError(safepay.ErrCodeInvalidIntent, "recipient alias is required", safepay.ErrInvalidIntent)
		}
		if !validFrequencies[intent.Frequency] {
			return safepay.NewError(safepay.ErrCodeInvalidIntent,
				fmt.Sprintf("unsupported frequency %q", intent.Frequency), safepay.ErrInvalidIntent)
		}

	case safepay.PaymentSplit:
		if len(intent.Recipients) < 2 {
			return safepay.NewError(safepay.ErrCodeInvalidSplit,
				"split payments require at least 2 recipients", safepay.ErrInvalidSplit)
		}
		total := 0.0
		for _, recipient := range intent.Recipients {
			if recipient.Share <= 0 {
				return safepay.NewError(safepay.ErrCodeInvalidSplit,
					fmt.Sprintf("recipient %s has a non-positive share", address.Display(recipient.Alias)), safepay.ErrInvalidSplit)
			}
			total += recipient.Share
		}
		// Accumulating e.g. 33.33+66.66 in float64 lands just under
		// 99.99; round to cents so the boundary itself is accepted.
		total = math.Round(total*100) / 100
		if math.Abs(total-100) > SplitShareTolerance {
			return safepay.NewError(safepay.ErrCodeInvalidSplit,
				fmt.Sprintf("recipient shares sum to %.2f%%, expected 100%%", total), safepay.ErrInvalidSplit).
				WithDetails("shares_total", total)
		}

	default:
		return safepay.NewError(safepay.ErrCodeInvalidIntent,
			fmt.Sprintf("unknown payment type %q", intent.Type), safepay.ErrInvalidIntent)
	}
	return nil
}

func (d *Dispatcher) loadIntent(intentID string) (*safepay.PaymentResult, string, error) {
	raw, exists, err := d.st.Get(bucketIntents, intentID)
	if err != nil {
		return nil, "", internalError(err)
	}
	if !exists {
		return nil, "", nil
	}
	var record intentRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, "", internalError(err)
	}
	return record.Result, record.Status, nil
}

func (d *Dispatcher) reserveIntent(intentID string) (bool, error) {
	pending, err := json.Marshal(intentRecord{Status: intentPending})
	if err != nil {
		return false, internalError(err)
	}
	applied, err := d.st.CompareAndSwap(bucketIntents, intentID, nil, pending)
	if err != nil {
		return false, internalError(err)
	}
	return applied, nil
}

func (d *Dispatcher) finishIntent(intentID string, result *safepay.PaymentResult) {
	encoded, err := json.Marshal(intentRecord{Status: intentDone, Result: result})
	if err != nil {
		d.logger.Error("intent record marshal failed", "intent_id", intentID, "error", err)
		return
	}
	if err := d.st.Put(bucketIntents, intentID, encoded); err != nil {
		d.logger.Error("intent record write failed", "intent_id", intentID, "error", err)
	}
}

func (d *Dispatcher) emit(event safepay.PaymentEvent) {
	if d.onEvent != nil {
		d.onEvent(event)
	}
}

func inFlight(intentID string) *safepay.Error {
	return safepay.NewError(safepay.ErrCodeIntentInFlight,
		fmt.Sprintf("intent %s is already executing", intentID), safepay.ErrIntentInFlight)
}

func railFailure(err error) *safepay.Error {
	code := safepay.ErrCodeRailFailed
	message := "settlement rail execution failed"
	if errors.Is(err, safepay.ErrRailUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		code = safepay.ErrCodeRailUnavailable
		message = "settlement rail unavailable"
	}
	return safepay.NewError(code, message, err)
}

func internalError(err error) *safepay.Error {
	return safepay.NewError(safepay.ErrCodeInternal, "dispatcher storage failure", err)
}
