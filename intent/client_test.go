package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cudi-org/safepay"
)

func TestClientParse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parse" {
			t.Errorf("path = %s; want /parse", r.URL.Path)
		}
		var req parseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "send $5 to @bob" {
			t.Errorf("text = %q; want the forwarded command", req.Text)
		}
		json.NewEncoder(w).Encode(safepay.PaymentIntent{
			Type:      safepay.PaymentSingle,
			Amount:    5,
			Currency:  "USDC",
			Recipient: "bob",
		})
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL, Timeouts: safepay.DefaultTimeouts}
	parsed, err := client.Parse(context.Background(), "send $5 to @bob", "u1", "UTC")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Type != safepay.PaymentSingle || parsed.Recipient != "bob" {
		t.Errorf("Parse() = %+v; want single payment to bob", parsed)
	}
}

func TestClientParseTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := &Client{
		BaseURL:  server.URL,
		Timeouts: safepay.DefaultTimeouts.WithParserTimeout(20 * time.Millisecond),
	}
	_, err := client.Parse(context.Background(), "send $5 to @bob", "", "")
	if !errors.Is(err, safepay.ErrParserUnavailable) {
		t.Fatalf("Parse() error = %v; want ErrParserUnavailable", err)
	}
}

func TestClientParseServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL, Timeouts: safepay.DefaultTimeouts}
	_, err := client.Parse(context.Background(), "send $5 to @bob", "", "")
	if !errors.Is(err, safepay.ErrParserUnavailable) {
		t.Fatalf("Parse() error = %v; want ErrParserUnavailable", err)
	}
}
