package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/cudi-org/safepay"
)

const transferPath = "/user-controlled-wallets/transactions/transfer"

// CircleClient settles payments through the Circle developer-controlled
// wallets API. Circle covers gas through its paymaster, so transfers need
// no on-chain signing here; the caller's EIP-712 authorization has
// already been verified by the dispatcher.
type CircleClient struct {
	// BaseURL is the Circle API base URL (e.g. "https://api.circle.com/v1/w3s").
	BaseURL string

	// APIKey is the Circle bearer token.
	APIKey string

	// EntityID is the Circle entity identifier.
	EntityID string

	// WalletID is the developer-controlled wallet used as transfer source.
	WalletID string

	// Client is the HTTP client to use. If nil, http.DefaultClient is used.
	Client *http.Client

	// Timeouts bounds every outbound call.
	Timeouts safepay.TimeoutConfig
}

var _ Rail = (*CircleClient)(nil)

func (c *CircleClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// circleTransferRequest is the wire form of a Circle transfer.
type circleTransferRequest struct {
	EntityID           string        `json:"entityId"`
	WalletID           string        `json:"walletId"`
	DestinationAddress string        `json:"destinationAddress"`
	Token              string        `json:"token"`
	Amount             string        `json:"amount"`
	RefID              string        `json:"refId"`
	Fee                circleFeeSpec `json:"fee"`
}

type circleFeeSpec struct {
	Type string `json:"type"`
}

type circleTransferResponse struct {
	Data struct {
		ID     string `json:"id"`
		TxHash string `json:"txHash"`
		Status string `json:"status"`
	} `json:"data"`
}

// SendPayment executes a single transfer through Circle.
func (c *CircleClient) SendPayment(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	payload := circleTransferRequest{
		EntityID:           c.EntityID,
		WalletID:           c.WalletID,
		DestinationAddress: req.To,
		Token:              req.Currency,
		Amount:             safepay.FormatAmount(req.Amount),
		RefID:              uuid.NewString(),
		Fee:                circleFeeSpec{Type: "GAS"},
	}

	var resp circleTransferResponse
	if err := c.post(ctx, transferPath, payload, &resp); err != nil {
		return nil, err
	}

	return &TransferResult{
		Hash:   resp.Data.TxHash,
		Status: resp.Data.Status,
		RailID: resp.Data.ID,
	}, nil
}

// CreateSubscription sets up a recurring payment. Circle has no native
// recurring-transfer API, so the setup executes the first charge and the
// recurring-execution actor re-invokes SendPayment on schedule.
func (c *CircleClient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	first, err := c.SendPayment(ctx, TransferRequest{
		From:     req.From,
		To:       req.To,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		return nil, err
	}

	return &SubscriptionResult{
		SubscriptionID: "sub_" + uuid.NewString(),
		Hash:           first.Hash,
		Status:         "active",
	}, nil
}

// SplitPayment executes a multi-recipient transfer as sequential Circle
// transfers. Any leg failure aborts the remainder and surfaces as a rail
// failure; the dispatcher records nothing in that case.
func (c *CircleClient) SplitPayment(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	var lastHash string
	for _, leg := range req.Legs {
		result, err := c.SendPayment(ctx, TransferRequest{
			From:     req.From,
			To:       leg.Address,
			Amount:   leg.Amount,
			Currency: req.Currency,
			Memo:     req.Memo,
		})
		if err != nil {
			return nil, fmt.Errorf("split leg to %s: %w", leg.Address, err)
		}
		lastHash = result.Hash
	}

	return &SplitResult{
		Hash:           lastHash,
		Status:         "confirmed",
		RecipientCount: len(req.Legs),
	}, nil
}

// post sends a JSON request to the Circle API with a bounded timeout and
// decodes the response into out.
func (c *CircleClient) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// Apply the rail timeout only if the caller has not set a deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.Timeouts.RailTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeouts.RailTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", safepay.ErrRailUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return parseErrorResponse(httpResp)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode rail response: %w", err)
	}
	return nil
}

// parseErrorResponse extracts error details from a non-2xx Circle response.
func parseErrorResponse(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	var errBody map[string]any
	if err := json.Unmarshal(bodyBytes, &errBody); err == nil {
		if message, ok := errBody["message"].(string); ok && message != "" {
			return fmt.Errorf("%w: status %d, reason: %s", safepay.ErrRailFailed, resp.StatusCode, message)
		}
	}

	if len(bodyBytes) > 0 && len(bodyBytes) < 500 {
		return fmt.Errorf("%w: status %d, body: %s", safepay.ErrRailFailed, resp.StatusCode, string(bodyBytes))
	}
	return fmt.Errorf("%w: status %d", safepay.ErrRailFailed, resp.StatusCode)
}
