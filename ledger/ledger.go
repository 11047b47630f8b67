// Package ledger keeps the append-only record of executed transfers.
//
// The ledger exclusively owns transaction history: records are written
// once by the dispatcher after a rail success and never edited. Queries
// are by rail hash or by participant address with descending-timestamp
// pagination.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/store"
)

const (
	bucketTx   = "tx"      // record id -> Transaction JSON
	bucketHash = "tx_hash" // rail hash -> record id
)

// Page size bounds for history queries. The server clamps the caller's
// limit to MaxPageSize regardless of what was requested.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page is one page of a history query.
type Page struct {
	// TotalCount is the number of matching records before pagination.
	TotalCount int `json:"total_count"`

	// Transactions is the requested page, newest first.
	Transactions []safepay.Transaction `json:"transactions"`
}

// Ledger is the append-only transaction log.
type Ledger struct {
	st     store.Store
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Ledger over the given store.
func New(st store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{st: st, logger: logger}
}

// Append stores a new transaction record and returns its assigned id.
// The id is derived from the record content and timestamp; existing
// records are never modified.
func (l *Ledger) Append(tx safepay.Transaction) (string, error) {
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.deriveID(tx)
	if err != nil {
		return "", err
	}
	tx.ID = id

	encoded, err := json.Marshal(tx)
	if err != nil {
		return "", storeError(err)
	}
	if err := l.st.Put(bucketTx, id, encoded); err != nil {
		return "", storeError(err)
	}
	if tx.Hash != "" {
		if err := l.st.Put(bucketHash, strings.ToLower(tx.Hash), []byte(id)); err != nil {
			return "", storeError(err)
		}
	}

	l.logger.Info("transaction recorded",
		"id", id, "hash", tx.Hash, "type", tx.Type, "from", tx.From, "to", tx.To)
	return id, nil
}

// deriveID builds a content-derived identifier, salting with a fresh uuid
// on the off chance of a collision.
func (l *Ledger) deriveID(tx safepay.Transaction) (string, error) {
	seed := fmt.Sprintf("%s|%s|%s|%s|%s", tx.Hash, tx.From, tx.To, tx.Type, tx.Timestamp.Format(time.RFC3339Nano))
	for {
		sum := sha256.Sum256([]byte(seed))
		id := "tx_" + hex.EncodeToString(sum[:])[:16]
		_, exists, err := l.st.Get(bucketTx, id)
		if err != nil {
			return "", storeError(err)
		}
		if !exists {
			return id, nil
		}
		seed += "|" + uuid.NewString()
	}
}

// GetByHash returns the transaction recorded under the given rail hash.
// Fails with ErrTransactionNotFound.
func (l *Ledger) GetByHash(hash string) (*safepay.Transaction, error) {
	idRaw, exists, err := l.st.Get(bucketHash, strings.ToLower(strings.TrimSpace(hash)))
	if err != nil {
		return nil, storeError(err)
	}
	if !exists {
		return nil, notFound()
	}

	raw, exists, err := l.st.Get(bucketTx, string(idRaw))
	if err != nil {
		return nil, storeError(err)
	}
	if !exists {
		return nil, notFound()
	}

	var tx safepay.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, storeError(err)
	}
	return &tx, nil
}

// History returns the transactions where addr is a participant (payer or
// recipient), newest first, paginated. The limit is clamped to
// MaxPageSize regardless of the requested value.
func (l *Ledger) History(addr string, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	participant := strings.ToLower(strings.TrimSpace(addr))

	keys, err := l.st.Keys(bucketTx)
	if err != nil {
		return nil, storeError(err)
	}

	var matches []safepay.Transaction
	for _, key := range keys {
		raw, exists, err := l.st.Get(bucketTx, key)
		if err != nil {
			return nil, storeError(err)
		}
		if !exists {
			continue
		}
		var tx safepay.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			continue
		}
		if strings.ToLower(tx.From) == participant || strings.ToLower(tx.To) == participant {
			matches = append(matches, tx)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Timestamp.Equal(matches[j].Timestamp) {
			return matches[i].Timestamp.After(matches[j].Timestamp)
		}
		return matches[i].ID > matches[j].ID
	})

	page := &Page{TotalCount: len(matches), Transactions: []safepay.Transaction{}}
	if offset >= len(matches) {
		return page, nil
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}
	page.Transactions = matches[offset:end]
	return page, nil
}

// Count returns the number of recorded transactions.
func (l *Ledger) Count() int {
	keys, err := l.st.Keys(bucketTx)
	if err != nil {
		return 0
	}
	return len(keys)
}

func notFound() *safepay.Error {
	return safepay.NewError(safepay.ErrCodeTransactionNotFound, "transaction not found", safepay.ErrTransactionNotFound)
}

func storeError(err error) *safepay.Error {
	return safepay.NewError(safepay.ErrCodeInternal, "ledger storage failure", err)
}
