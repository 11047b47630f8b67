package registry

import (
	"crypto/ecdsa"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/authz"
	"github.com/cudi-org/safepay/store"
)

func newTestRegistry(t *testing.T) (*Registry, *authz.Authorizer) {
	t.Helper()
	auth := authz.New(safepay.ArcTestnet)
	return New(store.NewMemory(), auth, nil), auth
}

// newWallet generates a key pair and returns the key with its canonical
// address.
func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return key, strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

// registrationSig signs the registration message for the canonical forms
// of alias and addr.
func registrationSig(t *testing.T, auth *authz.Authorizer, key *ecdsa.PrivateKey, alias, addr string) string {
	t.Helper()
	canonical := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(alias)), "@")
	message := auth.BuildRegistrationMessage(canonical, strings.ToLower(addr))
	sig, err := authz.Sign(message, key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return sig
}

func TestRegisterAndResolve(t *testing.T) {
	reg, auth := newTestRegistry(t)
	key, addr := newWallet(t)

	record, err := reg.Register("alice", addr, registrationSig(t, auth, key, "alice", addr))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if record.Alias != "alice" || record.Address != addr {
		t.Errorf("Register() = %+v; want alias alice, address %s", record, addr)
	}

	// All normalization variants resolve to the same address.
	for _, variant := range []string{"alice", "@alice", "Alice", " @ALICE "} {
		got, err := reg.Resolve(variant)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", variant, err)
		}
		if got != addr {
			t.Errorf("Resolve(%q) = %s; want %s", variant, got, addr)
		}
	}

	alias, err := reg.ReverseResolve(strings.ToUpper(addr[2:]))
	if err == nil {
		t.Fatalf("ReverseResolve() without 0x prefix succeeded with %q", alias)
	}
	alias, err = reg.ReverseResolve(addr)
	if err != nil {
		t.Fatalf("ReverseResolve() error = %v", err)
	}
	if alias != "alice" {
		t.Errorf("ReverseResolve() = %q; want alice", alias)
	}
}

func TestRegisterRejectsDuplicateAlias(t *testing.T) {
	reg, auth := newTestRegistry(t)
	key1, addr1 := newWallet(t)
	key2, addr2 := newWallet(t)

	if _, err := reg.Register("alice", addr1, registrationSig(t, auth, key1, "alice", addr1)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := reg.Register("@Alice", addr2, registrationSig(t, auth, key2, "alice", addr2))
	if safepay.CodeOf(err) != safepay.ErrCodeAliasExists {
		t.Errorf("Register(duplicate alias) code = %v; want alias_exists", safepay.CodeOf(err))
	}
}

func TestRegisterRejectsSecondAliasForAddress(t *testing.T) {
	reg, auth := newTestRegistry(t)
	key, addr := newWallet(t)

	if _, err := reg.Register("alice", addr, registrationSig(t, auth, key, "alice", addr)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := reg.Register("alice2", addr, registrationSig(t, auth, key, "alice2", addr))
	if safepay.CodeOf(err) != safepay.ErrCodeAddressHasAlias {
		t.Errorf("Register(second alias) code = %v; want address_has_alias", safepay.CodeOf(err))
	}
}

func TestRegisterRejectsBadSignature(t *testing.T) {
	reg, auth := newTestRegistry(t)
	_, addr := newWallet(t)
	otherKey, _ := newWallet(t)

	// Signature produced by a key that does not own addr.
	_, err := reg.Register("alice", addr, registrationSig(t, auth, otherKey, "alice", addr))
	if safepay.CodeOf(err) != safepay.ErrCodeInvalidSignature {
		t.Errorf("Register(foreign signature) code = %v; want invalid_signature", safepay.CodeOf(err))
	}

	_, err = reg.Register("alice", addr, "0xdeadbeef")
	if safepay.CodeOf(err) != safepay.ErrCodeInvalidSignature {
		t.Errorf("Register(malformed signature) code = %v; want invalid_signature", safepay.CodeOf(err))
	}

	if reg.Count() != 0 {
		t.Errorf("Count() = %d after rejected registrations; want 0", reg.Count())
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Register("a", "0x0000000000000000000000000000000000000001", "sig")
	if safepay.CodeOf(err) != safepay.ErrCodeInvalidAlias {
		t.Errorf("Register(short alias) code = %v; want invalid_alias", safepay.CodeOf(err))
	}

	_, err = reg.Register("alice", "not-an-address", "sig")
	if safepay.CodeOf(err) != safepay.ErrCodeInvalidAddress {
		t.Errorf("Register(bad address) code = %v; want invalid_address", safepay.CodeOf(err))
	}
}

func TestResolveUnknownAlias(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Resolve("ghost")
	if safepay.CodeOf(err) != safepay.ErrCodeAliasNotFound {
		t.Errorf("Resolve(unknown) code = %v; want alias_not_found", safepay.CodeOf(err))
	}
}

func TestDeleteRequiresOwner(t *testing.T) {
	reg, auth := newTestRegistry(t)
	key, addr := newWallet(t)
	_, stranger := newWallet(t)

	if _, err := reg.Register("alice", addr, registrationSig(t, auth, key, "alice", addr)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := reg.Delete("alice", stranger)
	if safepay.CodeOf(err) != safepay.ErrCodeNotOwner {
		t.Errorf("Delete(non-owner) code = %v; want not_owner", safepay.CodeOf(err))
	}
	if _, err := reg.Resolve("alice"); err != nil {
		t.Fatal("alias disappeared after rejected delete")
	}

	if err := reg.Delete("alice", addr); err != nil {
		t.Fatalf("Delete(owner) error = %v", err)
	}
	if _, err := reg.Resolve("alice"); safepay.CodeOf(err) != safepay.ErrCodeAliasNotFound {
		t.Error("alias still resolvable after delete")
	}
	// Both directions are gone: the address can register a new alias.
	if _, err := reg.Register("alice_again", addr, registrationSig(t, auth, key, "alice_again", addr)); err != nil {
		t.Errorf("Register() after delete error = %v", err)
	}
}

func TestSearch(t *testing.T) {
	reg, auth := newTestRegistry(t)

	for _, alias := range []string{"alice", "albert", "bob", "alfred"} {
		key, addr := newWallet(t)
		if _, err := reg.Register(alias, addr, registrationSig(t, auth, key, alias, addr)); err != nil {
			t.Fatalf("Register(%s) error = %v", alias, err)
		}
	}

	results, err := reg.Search("al", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []string{"alice", "albert", "alfred"}
	if len(results) != len(want) {
		t.Fatalf("Search() returned %d results; want %d", len(results), len(want))
	}
	// Registration order is preserved.
	for i, alias := range want {
		if results[i].Alias != alias {
			t.Errorf("Search()[%d] = %s; want %s", i, results[i].Alias, alias)
		}
	}

	limited, err := reg.Search("@AL", 2)
	if err != nil {
		t.Fatalf("Search(limited) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Search(limit=2) returned %d results; want 2", len(limited))
	}

	clamped, err := reg.Search("", 100000)
	if err != nil {
		t.Fatalf("Search(huge limit) error = %v", err)
	}
	if len(clamped) != 4 {
		t.Errorf("Search(all) returned %d results; want 4", len(clamped))
	}
}

// failingPutStore wraps a store and fails writes on demand.
type failingPutStore struct {
	store.Store
	failPuts bool
}

func (f *failingPutStore) Put(bucket, key string, value []byte) error {
	if f.failPuts {
		return errors.New("disk full")
	}
	return f.Store.Put(bucket, key, value)
}

func TestResolveSurvivesLastUsedWriteFailure(t *testing.T) {
	st := &failingPutStore{Store: store.NewMemory()}
	auth := authz.New(safepay.ArcTestnet)
	reg := New(st, auth, nil)

	key, addr := newWallet(t)
	if _, err := reg.Register("alice", addr, registrationSig(t, auth, key, "alice", addr)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// The last_used write is best-effort; resolution still answers when
	// the store rejects it.
	st.failPuts = true
	got, err := reg.Resolve("alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != addr {
		t.Errorf("Resolve() = %s; want %s", got, addr)
	}
}
