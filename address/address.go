// Package address normalizes wallet addresses and aliases into the
// canonical comparable form used everywhere else: addresses lowercase and
// 0x-prefixed, aliases lowercase without the leading "@". Every inbound
// address or alias must pass through this package before comparison or
// storage; nothing else in the codebase folds case on its own.
package address

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cudi-org/safepay"
)

var (
	// addressRegex matches canonical EVM addresses after folding.
	addressRegex = regexp.MustCompile(`^0x[a-f0-9]{40}$`)

	// aliasRegex matches canonical aliases after stripping the "@".
	aliasRegex = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)
)

// Normalize returns the canonical form of a wallet address: trimmed and
// lowercased. Returns ErrInvalidAddress if the result is not a 0x-prefixed
// 40-hex-digit address.
func Normalize(addr string) (string, error) {
	canonical := strings.ToLower(strings.TrimSpace(addr))
	if !addressRegex.MatchString(canonical) {
		return "", fmt.Errorf("%w: %q", safepay.ErrInvalidAddress, addr)
	}
	return canonical, nil
}

// NormalizeAlias returns the canonical form of an alias: trimmed,
// lowercased, with one leading "@" removed. Returns ErrInvalidAlias if the
// result violates the alias grammar [a-z0-9_]{3,20}.
func NormalizeAlias(alias string) (string, error) {
	canonical := strings.ToLower(strings.TrimSpace(alias))
	canonical = strings.TrimPrefix(canonical, "@")
	if !aliasRegex.MatchString(canonical) {
		return "", fmt.Errorf("%w: %q", safepay.ErrInvalidAlias, alias)
	}
	return canonical, nil
}

// Equal reports whether two addresses are the same after normalization.
// Malformed input never compares equal.
func Equal(a, b string) bool {
	ca, err := Normalize(a)
	if err != nil {
		return false
	}
	cb, err := Normalize(b)
	if err != nil {
		return false
	}
	return ca == cb
}

// Display returns the alias in display form with a leading "@".
func Display(canonicalAlias string) string {
	if strings.HasPrefix(canonicalAlias, "@") {
		return canonicalAlias
	}
	return "@" + canonicalAlias
}
