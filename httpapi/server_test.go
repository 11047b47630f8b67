package httpapi

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/authz"
	"github.com/cudi-org/safepay/dispatch"
	"github.com/cudi-org/safepay/intent"
	"github.com/cudi-org/safepay/ledger"
	"github.com/cudi-org/safepay/rail"
	"github.com/cudi-org/safepay/registry"
	"github.com/cudi-org/safepay/store"
)

type apiFixture struct {
	server *Server
	auth   *authz.Authorizer

	payerKey  *ecdsa.PrivateKey
	payerAddr string
	bobKey    *ecdsa.PrivateKey
	bobAddr   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	st := store.NewMemory()
	auth := authz.New(safepay.ArcTestnet)
	reg := registry.New(st, auth, nil)
	ldg := ledger.New(st, nil)

	dispatcher := dispatch.New(dispatch.Config{
		Registry:   reg,
		Ledger:     ldg,
		Authorizer: auth,
		Rail:       rail.NewSim(),
		Store:      st,
		Chain:      safepay.ArcTestnet,
		Timeouts:   safepay.DefaultTimeouts,
	})

	f := &apiFixture{auth: auth}
	f.payerKey, f.payerAddr = newWallet(t)
	f.bobKey, f.bobAddr = newWallet(t)

	f.server = New(Config{
		Dispatcher:     dispatcher,
		Registry:       reg,
		Ledger:         ldg,
		Parser:         intent.NewPatternParser(),
		Chain:          safepay.ArcTestnet,
		AllowedOrigins: []string{"*"},
	})
	return f
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

// do executes one request against the router and decodes the JSON body.
func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "body: %s", rec.Body.String())
	}
	return rec, decoded
}

func (f *apiFixture) registerAlias(t *testing.T, alias string, key *ecdsa.PrivateKey, addr string) {
	t.Helper()
	sig, err := authz.Sign(f.auth.BuildRegistrationMessage(alias, addr), key)
	require.NoError(t, err)

	rec, _ := f.do(t, http.MethodPost, "/alias/register", map[string]string{
		"alias": alias, "address": addr, "signature": sig,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestRegisterAndResolveAlias(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAlias(t, "bob", f.bobKey, f.bobAddr)

	rec, body := f.do(t, http.MethodGet, "/alias/bob", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.bobAddr, body["address"])

	rec, body = f.do(t, http.MethodGet, "/address/"+f.bobAddr+"/alias", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", body["alias"])

	rec, body = f.do(t, http.MethodGet, "/alias/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "alias_not_found", errorCode(body))
}

func TestRegisterAliasConflicts(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAlias(t, "bob", f.bobKey, f.bobAddr)

	// Same alias, different wallet.
	sig, err := authz.Sign(f.auth.BuildRegistrationMessage("bob", f.payerAddr), f.payerKey)
	require.NoError(t, err)
	rec, body := f.do(t, http.MethodPost, "/alias/register", map[string]string{
		"alias": "bob", "address": f.payerAddr, "signature": sig,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "alias_exists", errorCode(body))

	// Foreign signature.
	sig, err = authz.Sign(f.auth.BuildRegistrationMessage("mallory", f.payerAddr), f.bobKey)
	require.NoError(t, err)
	rec, body = f.do(t, http.MethodPost, "/alias/register", map[string]string{
		"alias": "mallory", "address": f.payerAddr, "signature": sig,
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "invalid_signature", errorCode(body))

	// Missing fields.
	rec, _ = f.do(t, http.MethodPost, "/alias/register", map[string]string{"alias": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAlias(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAlias(t, "bob", f.bobKey, f.bobAddr)

	rec, _ := f.do(t, http.MethodDelete, "/alias/bob", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing wallet header")

	rec, body := f.do(t, http.MethodDelete, "/alias/bob", nil, map[string]string{walletHeader: f.payerAddr})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_owner", errorCode(body))

	rec, _ = f.do(t, http.MethodDelete, "/alias/bob", nil, map[string]string{walletHeader: f.bobAddr})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/alias/bob", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// signedPayment builds the execute_payment body with a valid signature
// over the given intent.
func (f *apiFixture) signedPayment(t *testing.T, intentID string, in safepay.PaymentIntent, resolvedTo string) map[string]any {
	t.Helper()
	units, err := safepay.AmountToUnits(safepay.FormatAmount(in.Amount), safepay.USDCDecimals)
	require.NoError(t, err)
	message := f.auth.BuildTransferMessage(intentID, f.payerAddr, authz.BindingFor(in, resolvedTo), units, in.Currency)
	sig, err := authz.Sign(message, f.payerKey)
	require.NoError(t, err)

	return map[string]any{
		"intent_id":      intentID,
		"payment_intent": in,
		"from_address":   f.payerAddr,
		"signature":      sig,
	}
}

func TestExecutePaymentEndToEnd(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAlias(t, "bob", f.bobKey, f.bobAddr)

	payment := f.signedPayment(t, "intent-1", safepay.PaymentIntent{
		Type: safepay.PaymentSingle, Amount: 50, Currency: "USDC", Recipient: "bob",
	}, f.bobAddr)

	rec, body := f.do(t, http.MethodPost, "/execute_payment", payment, map[string]string{walletHeader: f.payerAddr})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	hash, _ := body["transaction_hash"].(string)
	require.NotEmpty(t, hash)

	// The transaction is queryable by hash and in the payer's history.
	rec, body = f.do(t, http.MethodGet, "/transaction/"+hash, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.bobAddr, body["to_address"])

	rec, body = f.do(t, http.MethodGet, "/history/"+f.payerAddr, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total_count"])
}

func TestExecutePaymentAuthFailures(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAlias(t, "bob", f.bobKey, f.bobAddr)

	payment := f.signedPayment(t, "intent-1", safepay.PaymentIntent{
		Type: safepay.PaymentSingle, Amount: 50, Currency: "USDC", Recipient: "bob",
	}, f.bobAddr)

	// No wallet header.
	rec, body := f.do(t, http.MethodPost, "/execute_payment", payment, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "address_mismatch", errorCode(body))

	// Header does not match from_address.
	rec, body = f.do(t, http.MethodPost, "/execute_payment", payment, map[string]string{walletHeader: f.bobAddr})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "address_mismatch", errorCode(body))

	// Tampered amount under a valid header.
	tampered := f.signedPayment(t, "intent-2", safepay.PaymentIntent{
		Type: safepay.PaymentSingle, Amount: 50, Currency: "USDC", Recipient: "bob",
	}, f.bobAddr)
	tampered["payment_intent"] = safepay.PaymentIntent{
		Type: safepay.PaymentSingle, Amount: 5000, Currency: "USDC", Recipient: "bob",
	}
	rec, body = f.do(t, http.MethodPost, "/execute_payment", tampered, map[string]string{walletHeader: f.payerAddr})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "invalid_signature", errorCode(body))
}

func TestExecutePaymentDuplicateIntentConflict(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAlias(t, "bob", f.bobKey, f.bobAddr)

	payment := f.signedPayment(t, "intent-1", safepay.PaymentIntent{
		Type: safepay.PaymentSingle, Amount: 50, Currency: "USDC", Recipient: "bob",
	}, f.bobAddr)

	rec, first := f.do(t, http.MethodPost, "/execute_payment", payment, map[string]string{walletHeader: f.payerAddr})
	require.Equal(t, http.StatusOK, rec.Code)

	// A replay returns the recorded result, not a fresh execution.
	rec, second := f.do(t, http.MethodPost, "/execute_payment", payment, map[string]string{walletHeader: f.payerAddr})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["transaction_hash"], second["transaction_hash"])

	rec, body := f.do(t, http.MethodGet, "/history/"+f.payerAddr, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total_count"])
}

func TestExecutePaymentUnknownRecipient(t *testing.T) {
	f := newAPIFixture(t)

	payment := f.signedPayment(t, "intent-1", safepay.PaymentIntent{
		Type: safepay.PaymentSingle, Amount: 50, Currency: "USDC", Recipient: "ghost",
	}, f.bobAddr)

	rec, body := f.do(t, http.MethodPost, "/execute_payment", payment, map[string]string{walletHeader: f.payerAddr})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "recipient_not_found", errorCode(body))
}

func TestProcessCommand(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodPost, "/process_command", map[string]string{
		"text": "Send $50 to @alice for lunch",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	parsed, ok := body["intent"].(map[string]any)
	require.True(t, ok, "body: %v", body)
	assert.Equal(t, "single", parsed["payment_type"])
	assert.Equal(t, float64(50), parsed["amount"])
	assert.Equal(t, "Send USDC 50 to @alice?", body["confirmation_text"])

	rec, _ = f.do(t, http.MethodPost, "/process_command", map[string]string{"text": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAlias(t, "bob", f.bobKey, f.bobAddr)

	payment := f.signedPayment(t, "sub-1", safepay.PaymentIntent{
		Type: safepay.PaymentSubscription, Amount: 9.99, Currency: "USDC",
		Recipient: "bob", Frequency: "monthly",
	}, f.bobAddr)

	rec, body := f.do(t, http.MethodPost, "/execute_payment", payment, map[string]string{walletHeader: f.payerAddr})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	subID, _ := body["subscription_id"].(string)
	require.NotEmpty(t, subID)

	rec, body = f.do(t, http.MethodGet, "/subscriptions/"+f.payerAddr, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = f.do(t, http.MethodPost, "/subscriptions/"+subID+"/cancel", nil, map[string]string{walletHeader: f.bobAddr})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/subscriptions/"+subID+"/cancel", nil, map[string]string{walletHeader: f.payerAddr})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])

	rec, body = f.do(t, http.MethodGet, "/subscriptions/"+f.payerAddr, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestSearchAliases(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAlias(t, "bob", f.bobKey, f.bobAddr)
	f.registerAlias(t, "bobby", f.payerKey, f.payerAddr)

	rec, body := f.do(t, http.MethodGet, "/alias/search?query=bob", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = f.do(t, http.MethodGet, "/alias/search?query=bob&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestHealthAndRoot(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = f.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ServiceName, body["service"])
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/execute_payment", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
