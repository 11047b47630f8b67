// Package intent turns natural-language payment commands into structured
// payment intents.
//
// Two parsers are provided: Client forwards commands to an external
// parsing service over HTTP, and PatternParser extracts intents locally
// with regular expressions. Parsed intents are advisory only; the
// dispatcher re-validates everything and executes nothing without a
// wallet signature.
package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cudi-org/safepay"
)

// Parser extracts a payment intent from free-form text.
type Parser interface {
	// Parse returns the structured intent for text. An intent the parser
	// could not complete is returned with its Error field set rather than
	// as an error; the error return is for transport-level failures only.
	Parse(ctx context.Context, text, userID, timezone string) (*safepay.PaymentIntent, error)
}

// Client calls an external intent-parsing service.
type Client struct {
	// BaseURL is the parser service base URL.
	BaseURL string

	// Client is the HTTP client to use. If nil, http.DefaultClient is used.
	Client *http.Client

	// Timeouts bounds every outbound call.
	Timeouts safepay.TimeoutConfig
}

var _ Parser = (*Client)(nil)

type parseRequest struct {
	Text     string `json:"text"`
	UserID   string `json:"user_id,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Parse implements Parser by POSTing the command to the service.
func (c *Client) Parse(ctx context.Context, text, userID, timezone string) (*safepay.PaymentIntent, error) {
	payload, err := json.Marshal(parseRequest{Text: text, UserID: userID, Timezone: timezone})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.Timeouts.ParserTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeouts.ParserTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/parse", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", safepay.ErrParserUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", safepay.ErrParserUnavailable, resp.StatusCode, string(body))
	}

	var intent safepay.PaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", safepay.ErrParserUnavailable, err)
	}
	return &intent, nil
}
