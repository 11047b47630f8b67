package safepay

import "fmt"

// USDCDecimals is the number of decimal places for USDC.
const USDCDecimals = 6

// SigningDomainName and SigningDomainVersion identify this service inside
// the EIP-712 signing domain. Changing either invalidates all previously
// issued signatures.
const (
	SigningDomainName    = "SafePay"
	SigningDomainVersion = "1"
)

// ChainConfig holds configuration for the settlement chain. The domain
// fields feed the EIP-712 signing domain so that signatures cannot be
// replayed against a different chain or service deployment.
type ChainConfig struct {
	// ChainID is the EVM chain identifier.
	ChainID int64

	// Name is a short human-readable chain name.
	Name string

	// USDCAddress is the USDC token contract address on this chain.
	USDCAddress string

	// ExplorerURL is the block-explorer base URL (no trailing slash).
	ExplorerURL string

	// VerifyingContract is the service contract address bound into the
	// signing domain.
	VerifyingContract string
}

// Predefined chain configurations for the Arc network.
var (
	// ArcMainnet is the configuration for Arc mainnet.
	ArcMainnet = ChainConfig{
		ChainID:           4224,
		Name:              "arc",
		USDCAddress:       "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		ExplorerURL:       "https://explorer.arc.network",
		VerifyingContract: "0x36c02dA8a0983159322a80FFE9F24b1acfF8B570",
	}

	// ArcTestnet is the configuration for the Arc test network.
	ArcTestnet = ChainConfig{
		ChainID:           42242,
		Name:              "arc-testnet",
		USDCAddress:       "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		ExplorerURL:       "https://testnet.explorer.arc.network",
		VerifyingContract: "0x36c02dA8a0983159322a80FFE9F24b1acfF8B570",
	}
)

// ChainByName returns the chain configuration for a chain name.
func ChainByName(name string) (ChainConfig, error) {
	switch name {
	case "arc", "arc-mainnet":
		return ArcMainnet, nil
	case "arc-testnet":
		return ArcTestnet, nil
	default:
		return ChainConfig{}, fmt.Errorf("unknown chain: %s", name)
	}
}

// ExplorerTxURL returns the explorer URL for a transaction hash.
func (c ChainConfig) ExplorerTxURL(hash string) string {
	return c.ExplorerURL + "/tx/" + hash
}
