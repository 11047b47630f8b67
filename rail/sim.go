package rail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sim is an in-memory settlement rail. It confirms every transfer with a
// generated transaction hash and keeps a count of executed operations.
// Used in tests and whenever Circle credentials are absent.
type Sim struct {
	mu sync.Mutex

	// FailWith, when set, makes every call fail with this error.
	FailWith error

	transfers     int
	subscriptions int
	splits        int
}

var _ Rail = (*Sim)(nil)

// NewSim creates a simulated rail.
func NewSim() *Sim {
	return &Sim{}
}

func mockHash() string {
	sum := sha256.Sum256([]byte(time.Now().UTC().Format(time.RFC3339Nano) + uuid.NewString()))
	return "0x" + hex.EncodeToString(sum[:])
}

// SendPayment implements Rail.
func (s *Sim) SendPayment(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.transfers++

	return &TransferResult{
		Hash:   mockHash(),
		Status: "confirmed",
		RailID: "sim_tx_" + uuid.NewString()[:10],
	}, nil
}

// CreateSubscription implements Rail.
func (s *Sim) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.subscriptions++

	seed := fmt.Sprintf("%s%s%s", req.From, req.To, time.Now().UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(seed))
	return &SubscriptionResult{
		SubscriptionID: "sub_" + hex.EncodeToString(sum[:])[:16],
		Hash:           mockHash(),
		Status:         "active",
	}, nil
}

// SplitPayment implements Rail.
func (s *Sim) SplitPayment(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.splits++

	return &SplitResult{
		Hash:           mockHash(),
		Status:         "confirmed",
		RecipientCount: len(req.Legs),
	}, nil
}

// Executed returns how many rail operations have run, by kind. Tests use
// this to assert at-most-once execution.
func (s *Sim) Executed() (transfers, subscriptions, splits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers, s.subscriptions, s.splits
}
