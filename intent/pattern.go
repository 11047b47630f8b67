package intent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cudi-org/safepay"
)

var (
	amountRe = regexp.MustCompile(`\$?(\d+(?:\.\d{1,2})?)`)
	aliasRe  = regexp.MustCompile(`@(\w+)`)
	memoRe   = regexp.MustCompile(`\bfor\s+(.+)$`)
)

// PatternParser extracts payment intents with regular expressions. It is
// the fallback when no external parser service is configured, and the
// deterministic parser used in tests.
//
// Detection order: any "split" keyword or more than one alias makes the
// command a split; recurrence keywords make it a subscription; everything
// else is a single payment.
type PatternParser struct {
	// Currency is the assumed token symbol. Defaults to "USDC".
	Currency string
}

var _ Parser = (*PatternParser)(nil)

// NewPatternParser creates a PatternParser with the default currency.
func NewPatternParser() *PatternParser {
	return &PatternParser{Currency: "USDC"}
}

func (p *PatternParser) currency() string {
	if p.Currency != "" {
		return p.Currency
	}
	return "USDC"
}

// Parse implements Parser.
func (p *PatternParser) Parse(_ context.Context, text, _, _ string) (*safepay.PaymentIntent, error) {
	lower := strings.ToLower(text)

	var amount float64
	hasAmount := false
	if m := amountRe.FindStringSubmatch(text); m != nil {
		if parsed, err := strconv.ParseFloat(m[1], 64); err == nil {
			amount = parsed
			hasAmount = true
		}
	}

	var aliases []string
	for _, m := range aliasRe.FindAllStringSubmatch(text, -1) {
		aliases = append(aliases, strings.ToLower(m[1]))
	}

	switch {
	case strings.Contains(lower, "split") || len(aliases) > 1:
		return p.parseSplit(amount, hasAmount, aliases), nil
	case hasRecurrence(lower):
		return p.parseSubscription(lower, amount, hasAmount, aliases), nil
	default:
		return p.parseSingle(lower, amount, hasAmount, aliases), nil
	}
}

func (p *PatternParser) parseSingle(lower string, amount float64, hasAmount bool, aliases []string) *safepay.PaymentIntent {
	if !hasAmount {
		return incomplete(safepay.PaymentSingle, "missing_amount", "could not find a payment amount")
	}
	if len(aliases) == 0 {
		return incomplete(safepay.PaymentSingle, "missing_recipient", "could not find a recipient alias")
	}
	return &safepay.PaymentIntent{
		Type:       safepay.PaymentSingle,
		Amount:     amount,
		Currency:   p.currency(),
		Recipient:  aliases[0],
		Memo:       extractMemo(lower),
		Confidence: 0.85,
	}
}

func (p *PatternParser) parseSubscription(lower string, amount float64, hasAmount bool, aliases []string) *safepay.PaymentIntent {
	if !hasAmount {
		return incomplete(safepay.PaymentSubscription, "missing_amount", "could not find a payment amount")
	}
	if len(aliases) == 0 {
		return incomplete(safepay.PaymentSubscription, "missing_recipient", "could not find a recipient alias")
	}
	return &safepay.PaymentIntent{
		Type:       safepay.PaymentSubscription,
		Amount:     amount,
		Currency:   p.currency(),
		Recipient:  aliases[0],
		Frequency:  detectFrequency(lower),
		Confidence: 0.80,
	}
}

func (p *PatternParser) parseSplit(amount float64, hasAmount bool, aliases []string) *safepay.PaymentIntent {
	if !hasAmount {
		return incomplete(safepay.PaymentSplit, "missing_amount", "could not find a payment amount")
	}
	if len(aliases) < 2 {
		return incomplete(safepay.PaymentSplit, "insufficient_recipients", "split payments need at least two recipient aliases")
	}

	// Equal shares; the remainder of the integer division lands on the
	// first recipient so the shares sum to exactly 100.
	share := 100.0 / float64(len(aliases))
	recipients := make([]safepay.SplitRecipient, len(aliases))
	total := 0.0
	for i, alias := range aliases {
		rounded := float64(int(share*100)) / 100
		recipients[i] = safepay.SplitRecipient{Alias: alias, Share: rounded}
		total += rounded
	}
	recipients[0].Share += 100 - total

	return &safepay.PaymentIntent{
		Type:       safepay.PaymentSplit,
		Amount:     amount,
		Currency:   p.currency(),
		Recipients: recipients,
		Confidence: 0.78,
	}
}

func hasRecurrence(lower string) bool {
	for _, keyword := range []string{"every", "daily", "weekly", "monthly", "yearly", "recurring", "subscribe"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func detectFrequency(lower string) string {
	switch {
	case strings.Contains(lower, "daily") || strings.Contains(lower, "every day"):
		return "daily"
	case strings.Contains(lower, "weekly") || strings.Contains(lower, "every week"):
		return "weekly"
	case strings.Contains(lower, "yearly") || strings.Contains(lower, "every year") || strings.Contains(lower, "annual"):
		return "yearly"
	default:
		return "monthly"
	}
}

func extractMemo(lower string) string {
	m := memoRe.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	memo := strings.TrimSpace(m[1])
	if len(memo) > 200 {
		memo = memo[:200]
	}
	return memo
}

func incomplete(paymentType safepay.PaymentType, code, message string) *safepay.PaymentIntent {
	return &safepay.PaymentIntent{
		Type:       paymentType,
		Confidence: 0.3,
		Error: &safepay.IntentError{
			Code:    code,
			Message: message,
		},
	}
}

// Confirmation renders a human-readable summary of an intent for the
// caller to approve before signing.
func Confirmation(intent *safepay.PaymentIntent) string {
	if intent == nil || intent.Error != nil {
		return ""
	}
	switch intent.Type {
	case safepay.PaymentSingle:
		return fmt.Sprintf("Send %s %s to @%s?", intent.Currency, safepay.FormatAmount(intent.Amount), intent.Recipient)
	case safepay.PaymentSubscription:
		return fmt.Sprintf("Set up %s %s %s to @%s?", intent.Frequency, intent.Currency, safepay.FormatAmount(intent.Amount), intent.Recipient)
	case safepay.PaymentSplit:
		return fmt.Sprintf("Split %s %s between %d people?", intent.Currency, safepay.FormatAmount(intent.Amount), len(intent.Recipients))
	default:
		return ""
	}
}
