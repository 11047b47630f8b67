package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/store"
)

const (
	payer     = "0x0000000000000000000000000000000000000001"
	recipient = "0x0000000000000000000000000000000000000002"
	stranger  = "0x00000000000000000000000000000000000000ff"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(store.NewMemory(), nil)
}

func testTx(hash string, ts time.Time) safepay.Transaction {
	return safepay.Transaction{
		Hash:      hash,
		From:      payer,
		To:        recipient,
		Amount:    50,
		Currency:  "USDC",
		Type:      safepay.PaymentSingle,
		Status:    "confirmed",
		Timestamp: ts,
	}
}

func TestAppendAndGetByHash(t *testing.T) {
	l := newTestLedger(t)

	id, err := l.Append(testTx("0xABCDEF", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if id == "" {
		t.Fatal("Append() returned empty id")
	}

	// Hash lookup is case-insensitive.
	for _, hash := range []string{"0xabcdef", "0xABCDEF", " 0xAbCdEf "} {
		tx, err := l.GetByHash(hash)
		if err != nil {
			t.Fatalf("GetByHash(%q) error = %v", hash, err)
		}
		if tx.ID != id {
			t.Errorf("GetByHash(%q).ID = %s; want %s", hash, tx.ID, id)
		}
	}

	if _, err := l.GetByHash("0xmissing"); safepay.CodeOf(err) != safepay.ErrCodeTransactionNotFound {
		t.Errorf("GetByHash(unknown) code = %v; want transaction_not_found", safepay.CodeOf(err))
	}
}

func TestAppendAssignsDistinctIDs(t *testing.T) {
	l := newTestLedger(t)
	ts := time.Now().UTC()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		// Identical content and timestamp on purpose.
		id, err := l.Append(testTx("0xsame", ts))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("Append() reused id %s", id)
		}
		seen[id] = true
	}
	if l.Count() != 5 {
		t.Errorf("Count() = %d; want 5", l.Count())
	}
}

func TestHistoryOrderAndPagination(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tx := testTx(fmt.Sprintf("0xhash%d", i), base.Add(time.Duration(i)*time.Hour))
		if _, err := l.Append(tx); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	// One transaction the payer is not part of.
	other := testTx("0xother", base)
	other.From = stranger
	other.To = stranger
	if _, err := l.Append(other); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	page, err := l.History(payer, 0, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if page.TotalCount != 5 {
		t.Fatalf("TotalCount = %d; want 5", page.TotalCount)
	}
	for i := 1; i < len(page.Transactions); i++ {
		if page.Transactions[i].Timestamp.After(page.Transactions[i-1].Timestamp) {
			t.Fatal("History() not sorted newest first")
		}
	}

	// Recipient sees the same transactions.
	page, err = l.History(recipient, 0, 0)
	if err != nil {
		t.Fatalf("History(recipient) error = %v", err)
	}
	if page.TotalCount != 5 {
		t.Errorf("recipient TotalCount = %d; want 5", page.TotalCount)
	}

	// Pagination.
	page, err = l.History(payer, 2, 0)
	if err != nil {
		t.Fatalf("History(limit=2) error = %v", err)
	}
	if len(page.Transactions) != 2 || page.TotalCount != 5 {
		t.Errorf("History(limit=2) = %d rows, total %d; want 2 rows, total 5", len(page.Transactions), page.TotalCount)
	}
	if page.Transactions[0].Hash != "0xhash4" {
		t.Errorf("first page starts at %s; want 0xhash4", page.Transactions[0].Hash)
	}

	page, err = l.History(payer, 2, 4)
	if err != nil {
		t.Fatalf("History(offset=4) error = %v", err)
	}
	if len(page.Transactions) != 1 {
		t.Errorf("History(offset=4) = %d rows; want 1", len(page.Transactions))
	}

	page, err = l.History(payer, 2, 100)
	if err != nil {
		t.Fatalf("History(offset past end) error = %v", err)
	}
	if len(page.Transactions) != 0 {
		t.Errorf("History(offset past end) = %d rows; want 0", len(page.Transactions))
	}
}

func TestHistoryClampsLimit(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < MaxPageSize+20; i++ {
		tx := testTx(fmt.Sprintf("0xh%d", i), base.Add(time.Duration(i)*time.Minute))
		if _, err := l.Append(tx); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	page, err := l.History(payer, 200, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(page.Transactions) != MaxPageSize {
		t.Errorf("History(limit=200) = %d rows; want clamp to %d", len(page.Transactions), MaxPageSize)
	}
	if page.TotalCount != MaxPageSize+20 {
		t.Errorf("TotalCount = %d; want %d", page.TotalCount, MaxPageSize+20)
	}
}

func TestHistoryEmptyForUnknownAddress(t *testing.T) {
	l := newTestLedger(t)

	page, err := l.History(stranger, 0, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if page.TotalCount != 0 || len(page.Transactions) != 0 {
		t.Errorf("History(unknown) = %+v; want empty page", page)
	}
}
