// Package authz builds and verifies the EIP-712 structured messages that
// authorize payment dispatch and alias registration.
//
// Every signature is domain-separated over {service name, version, chain
// id, verifying contract} and fully bound to its payload: the intent id,
// payer, recipient binding, atomic amount and currency for transfers; the
// alias and address for registrations. A signature therefore authorizes
// exactly one action on exactly one deployment and cannot be replayed
// against a different intent, amount, chain or service.
package authz

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/internal/typeddata"
)

// Authorizer builds and verifies structured authorization messages for
// one chain deployment.
type Authorizer struct {
	chain safepay.ChainConfig
}

// New creates an Authorizer bound to the given chain configuration.
func New(chain safepay.ChainConfig) *Authorizer {
	return &Authorizer{chain: chain}
}

func (a *Authorizer) domain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              safepay.SigningDomainName,
		Version:           safepay.SigningDomainVersion,
		ChainId:           (*math.HexOrDecimal256)(big.NewInt(a.chain.ChainID)),
		VerifyingContract: a.chain.VerifyingContract,
	}
}

// BuildTransferMessage constructs the typed message a client must sign to
// authorize one payment dispatch. The "to" value is the canonical
// recipient address for single and subscription intents, or the split
// recipient binding (see SplitBinding) for split intents.
func (a *Authorizer) BuildTransferMessage(intentID, from, to string, amount *big.Int, currency string) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferAuthorization": []apitypes.Type{
				{Name: "intentId", Type: "string"},
				{Name: "from", Type: "address"},
				{Name: "to", Type: "string"},
				{Name: "amount", Type: "uint256"},
				{Name: "currency", Type: "string"},
			},
		},
		PrimaryType: "TransferAuthorization",
		Domain:      a.domain(),
		Message: apitypes.TypedDataMessage{
			"intentId": intentID,
			"from":     from,
			"to":       to,
			"amount":   (*math.HexOrDecimal256)(amount),
			"currency": currency,
		},
	}
}

// BuildRegistrationMessage constructs the typed message that proves
// control of an address during alias registration.
func (a *Authorizer) BuildRegistrationMessage(alias, addr string) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"AliasRegistration": []apitypes.Type{
				{Name: "alias", Type: "string"},
				{Name: "address", Type: "address"},
			},
		},
		PrimaryType: "AliasRegistration",
		Domain:      a.domain(),
		Message: apitypes.TypedDataMessage{
			"alias":   alias,
			"address": addr,
		},
	}
}

// Verify reports whether signature recovers to claimedAddress over the
// typed message. It fails closed: malformed input, digest failures and
// recovery failures all yield false, never an error.
func (a *Authorizer) Verify(message apitypes.TypedData, signature, claimedAddress string) bool {
	digest, err := typeddata.Digest(message)
	if err != nil {
		return false
	}

	sig, err := decodeSignature(signature)
	if err != nil {
		return false
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}

	recovered := crypto.PubkeyToAddress(*pub)
	return strings.EqualFold(recovered.Hex(), claimedAddress)
}

// decodeSignature decodes a hex signature and normalizes the recovery id
// from the Ethereum convention (27/28) to the raw form (0/1).
func decodeSignature(signature string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return nil, err
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	out := make([]byte, crypto.SignatureLength)
	copy(out, sig)
	if out[64] >= 27 {
		out[64] -= 27
	}
	return out, nil
}

// Sign produces a hex-encoded signature over the typed message with the
// Ethereum 27/28 recovery id convention. Used by clients and tests; the
// server side only verifies.
func Sign(message apitypes.TypedData, key *ecdsa.PrivateKey) (string, error) {
	digest, err := typeddata.Digest(message)
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}

	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SplitBinding derives the recipient binding string for split intents:
// the keccak hash of the canonical "alias:share" list sorted by alias.
// Binding the full recipient list into the signed message means changing
// any leg's alias or share invalidates the signature.
func SplitBinding(recipients []safepay.SplitRecipient) string {
	legs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		alias := strings.ToLower(strings.TrimSpace(r.Alias))
		alias = strings.TrimPrefix(alias, "@")
		legs = append(legs, fmt.Sprintf("%s:%s", alias, safepay.FormatAmount(r.Share)))
	}
	sort.Strings(legs)
	sum := crypto.Keccak256([]byte(strings.Join(legs, ",")))
	return "0x" + hex.EncodeToString(sum)
}

// BindingFor returns the "to" value to bind into a transfer message:
// the resolved recipient address for single and subscription intents, or
// the split recipient binding for split intents.
func BindingFor(intent safepay.PaymentIntent, resolvedTo string) string {
	if intent.Type == safepay.PaymentSplit {
		return SplitBinding(intent.Recipients)
	}
	return resolvedTo
}
