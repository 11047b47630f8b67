package dispatch

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/address"
)

// persistSubscription records the recurring agreement created by the
// rail so it can be listed and cancelled later.
func (d *Dispatcher) persistSubscription(id, from, to string, intent safepay.PaymentIntent) error {
	now := time.Now().UTC()
	sub := safepay.Subscription{
		ID:          id,
		From:        from,
		To:          to,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		Frequency:   intent.Frequency,
		Status:      safepay.SubscriptionActive,
		NextPayment: nextPayment(intent.Frequency, intent.StartDate, now),
		CreatedAt:   now,
	}

	encoded, err := json.Marshal(sub)
	if err != nil {
		return internalError(err)
	}
	if err := d.st.Put(bucketSubscriptions, id, encoded); err != nil {
		return internalError(err)
	}
	return nil
}

// nextPayment computes when the next recurring charge is due. The first
// charge ran at setup, so the next one is one interval past the start
// date (or past now when no start date was given or it does not parse).
func nextPayment(frequency, startDate string, now time.Time) time.Time {
	base := now
	if startDate != "" {
		if parsed, err := time.Parse(time.RFC3339, startDate); err == nil {
			base = parsed
		} else if parsed, err := time.Parse("2006-01-02", startDate); err == nil {
			base = parsed
		}
	}

	switch frequency {
	case "daily":
		return base.AddDate(0, 0, 1)
	case "weekly":
		return base.AddDate(0, 0, 7)
	case "monthly":
		return base.AddDate(0, 1, 0)
	case "yearly":
		return base.AddDate(1, 0, 0)
	default:
		return base
	}
}

// ListSubscriptions returns the active subscriptions where addr is the
// payer, in creation order.
func (d *Dispatcher) ListSubscriptions(addr string) ([]safepay.Subscription, error) {
	payer, err := address.Normalize(addr)
	if err != nil {
		return nil, safepay.NewError(safepay.ErrCodeInvalidAddress, "address must be a 0x-prefixed hex address", err)
	}

	ids, err := d.st.Keys(bucketSubscriptions)
	if err != nil {
		return nil, internalError(err)
	}

	subs := []safepay.Subscription{}
	for _, id := range ids {
		raw, exists, err := d.st.Get(bucketSubscriptions, id)
		if err != nil {
			return nil, internalError(err)
		}
		if !exists {
			continue
		}
		var sub safepay.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			continue
		}
		if strings.EqualFold(sub.From, payer) && sub.Status == safepay.SubscriptionActive {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// CancelSubscription marks a subscription cancelled. Only the payer that
// created the subscription may cancel it.
func (d *Dispatcher) CancelSubscription(id, requestingAddr string) (*safepay.Subscription, error) {
	requester, err := address.Normalize(requestingAddr)
	if err != nil {
		return nil, safepay.NewError(safepay.ErrCodeInvalidAddress, "address must be a 0x-prefixed hex address", err)
	}

	raw, exists, err := d.st.Get(bucketSubscriptions, id)
	if err != nil {
		return nil, internalError(err)
	}
	if !exists {
		return nil, safepay.NewError(safepay.ErrCodeSubscriptionNotFound, "subscription not found", safepay.ErrSubscriptionNotFound)
	}

	var sub safepay.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, internalError(err)
	}
	if !strings.EqualFold(sub.From, requester) {
		return nil, safepay.NewError(safepay.ErrCodeNotOwner, "only the subscription payer can cancel it", safepay.ErrNotOwner)
	}
	if sub.Status == safepay.SubscriptionCancelled {
		return &sub, nil
	}

	sub.Status = safepay.SubscriptionCancelled
	encoded, err := json.Marshal(sub)
	if err != nil {
		return nil, internalError(err)
	}
	if err := d.st.Put(bucketSubscriptions, id, encoded); err != nil {
		return nil, internalError(err)
	}

	d.logger.Info("subscription cancelled", "subscription_id", id, "payer", requester)
	return &sub, nil
}
