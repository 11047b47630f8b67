// Package registry maintains the bidirectional, unique mapping between
// aliases and wallet addresses.
//
// The registry exclusively owns the alias/address bijection: at most one
// address per alias and at most one alias per address. Both directions of
// a registration commit together or not at all.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/address"
	"github.com/cudi-org/safepay/authz"
	"github.com/cudi-org/safepay/store"
)

const (
	bucketAlias   = "alias"      // canonical alias -> Record JSON
	bucketAddress = "alias_addr" // canonical address -> canonical alias
)

// Search result bounds.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// Record is the stored state of one alias registration.
type Record struct {
	// Alias is the canonical alias, stored without the leading "@".
	Alias string `json:"alias"`

	// Address is the canonical lowercase owner address.
	Address string `json:"address"`

	// RegisteredAt is when the alias was created.
	RegisteredAt time.Time `json:"registered_at"`

	// LastUsed is updated on every successful resolution.
	LastUsed time.Time `json:"last_used"`
}

// Registry resolves aliases to addresses and back.
type Registry struct {
	st     store.Store
	auth   *authz.Authorizer
	logger *slog.Logger

	// mu serializes writes so the two directions of the bijection are
	// applied as a single atomic unit.
	mu sync.Mutex
}

// New creates a Registry over the given store. The authorizer verifies
// the proof-of-ownership signature on registration.
func New(st store.Store, auth *authz.Authorizer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{st: st, auth: auth, logger: logger}
}

// Register creates the alias -> addr mapping. The signature must be an
// alias-registration signature produced by the owner of addr. Fails with
// ErrAliasTaken, ErrAddressAliased or ErrInvalidSignature.
func (r *Registry) Register(alias, addr, signature string) (*Record, error) {
	canonicalAlias, err := address.NormalizeAlias(alias)
	if err != nil {
		return nil, safepay.NewError(safepay.ErrCodeInvalidAlias, "alias must be 3-20 alphanumeric or underscore characters", err)
	}
	canonicalAddr, err := address.Normalize(addr)
	if err != nil {
		return nil, safepay.NewError(safepay.ErrCodeInvalidAddress, "address must be a 0x-prefixed hex address", err)
	}

	message := r.auth.BuildRegistrationMessage(canonicalAlias, canonicalAddr)
	if !r.auth.Verify(message, signature, canonicalAddr) {
		return nil, safepay.NewError(safepay.ErrCodeInvalidSignature, "invalid or expired signature", safepay.ErrInvalidSignature)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check both directions before committing either side.
	if _, exists, err := r.st.Get(bucketAlias, canonicalAlias); err != nil {
		return nil, storeError(err)
	} else if exists {
		return nil, safepay.NewError(safepay.ErrCodeAliasExists,
			fmt.Sprintf("alias @%s is already registered", canonicalAlias), safepay.ErrAliasTaken)
	}
	if existing, exists, err := r.st.Get(bucketAddress, canonicalAddr); err != nil {
		return nil, storeError(err)
	} else if exists {
		return nil, safepay.NewError(safepay.ErrCodeAddressHasAlias,
			fmt.Sprintf("address already has alias @%s", string(existing)), safepay.ErrAddressAliased)
	}

	now := time.Now().UTC()
	record := &Record{
		Alias:        canonicalAlias,
		Address:      canonicalAddr,
		RegisteredAt: now,
		LastUsed:     now,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, storeError(err)
	}

	if err := r.st.Put(bucketAlias, canonicalAlias, encoded); err != nil {
		return nil, storeError(err)
	}
	if err := r.st.Put(bucketAddress, canonicalAddr, []byte(canonicalAlias)); err != nil {
		// Roll back the forward mapping so no half-written pair survives.
		_ = r.st.Delete(bucketAlias, canonicalAlias)
		return nil, storeError(err)
	}

	r.logger.Info("alias registered", "alias", canonicalAlias, "address", canonicalAddr)
	return record, nil
}

// Resolve returns the address registered for alias and updates the
// record's last_used timestamp. Fails with ErrAliasNotFound.
func (r *Registry) Resolve(alias string) (string, error) {
	canonicalAlias, err := address.NormalizeAlias(alias)
	if err != nil {
		return "", safepay.NewError(safepay.ErrCodeInvalidAlias, "alias must be 3-20 alphanumeric or underscore characters", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.loadRecord(canonicalAlias)
	if err != nil {
		return "", err
	}

	// The last_used write is best-effort: resolution must still answer
	// when it fails, but the failure is not swallowed silently.
	record.LastUsed = time.Now().UTC()
	if encoded, err := json.Marshal(record); err != nil {
		r.logger.Error("last_used record marshal failed", "alias", canonicalAlias, "error", err)
	} else if err := r.st.Put(bucketAlias, canonicalAlias, encoded); err != nil {
		r.logger.Error("last_used record write failed", "alias", canonicalAlias, "error", err)
	}
	return record.Address, nil
}

// ReverseResolve returns the alias owned by addr, without the leading
// "@". Fails with ErrAliasNotFound when the address owns no alias.
func (r *Registry) ReverseResolve(addr string) (string, error) {
	canonicalAddr, err := address.Normalize(addr)
	if err != nil {
		return "", safepay.NewError(safepay.ErrCodeInvalidAddress, "address must be a 0x-prefixed hex address", err)
	}

	alias, exists, err := r.st.Get(bucketAddress, canonicalAddr)
	if err != nil {
		return "", storeError(err)
	}
	if !exists {
		return "", safepay.NewError(safepay.ErrCodeAliasNotFound, "address has no registered alias", safepay.ErrAliasNotFound)
	}
	return string(alias), nil
}

// Delete removes the alias. Ownership is re-checked here even if the
// caller was authenticated earlier: only the registered owner address may
// delete. Fails with ErrNotOwner or ErrAliasNotFound.
func (r *Registry) Delete(alias, requestingAddr string) error {
	canonicalAlias, err := address.NormalizeAlias(alias)
	if err != nil {
		return safepay.NewError(safepay.ErrCodeInvalidAlias, "alias must be 3-20 alphanumeric or underscore characters", err)
	}
	canonicalAddr, err := address.Normalize(requestingAddr)
	if err != nil {
		return safepay.NewError(safepay.ErrCodeInvalidAddress, "address must be a 0x-prefixed hex address", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.loadRecord(canonicalAlias)
	if err != nil {
		return err
	}
	if record.Address != canonicalAddr {
		return safepay.NewError(safepay.ErrCodeNotOwner, "only the owning address may delete an alias", safepay.ErrNotOwner)
	}

	if err := r.st.Delete(bucketAlias, canonicalAlias); err != nil {
		return storeError(err)
	}
	if err := r.st.Delete(bucketAddress, canonicalAddr); err != nil {
		return storeError(err)
	}

	r.logger.Info("alias deleted", "alias", canonicalAlias, "address", canonicalAddr)
	return nil
}

// Search returns registrations whose canonical alias starts with prefix,
// in registration order, bounded by limit. An out-of-range limit is
// replaced by DefaultSearchLimit / clamped to MaxSearchLimit.
func (r *Registry) Search(prefix string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	canonical := strings.ToLower(strings.TrimSpace(prefix))
	canonical = strings.TrimPrefix(canonical, "@")

	keys, err := r.st.Keys(bucketAlias)
	if err != nil {
		return nil, storeError(err)
	}

	results := make([]Record, 0, limit)
	for _, key := range keys {
		if !strings.HasPrefix(key, canonical) {
			continue
		}
		raw, exists, err := r.st.Get(bucketAlias, key)
		if err != nil {
			return nil, storeError(err)
		}
		if !exists {
			continue
		}
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		results = append(results, record)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Count returns the number of registered aliases.
func (r *Registry) Count() int {
	keys, err := r.st.Keys(bucketAlias)
	if err != nil {
		return 0
	}
	return len(keys)
}

func (r *Registry) loadRecord(canonicalAlias string) (*Record, error) {
	raw, exists, err := r.st.Get(bucketAlias, canonicalAlias)
	if err != nil {
		return nil, storeError(err)
	}
	if !exists {
		return nil, safepay.NewError(safepay.ErrCodeAliasNotFound,
			fmt.Sprintf("alias @%s not found", canonicalAlias), safepay.ErrAliasNotFound)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, storeError(err)
	}
	return &record, nil
}

func storeError(err error) *safepay.Error {
	return safepay.NewError(safepay.ErrCodeInternal, "directory storage failure", err)
}
