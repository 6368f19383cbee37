// Package x402 holds the protocol types and the network/asset tables used by the
// settlement engine. Networks form a closed set: every lookup in this file is total
// over the Network constants, and anything else is rejected when configuration is
// loaded rather than when a request arrives.
package x402

import (
	"fmt"
	"sort"
	"strings"
)

// NetworkFamily classifies a network by the kind of chain it runs on.
type NetworkFamily int

const (
	// FamilyUnknown is the zero value and never returned for a valid Network.
	FamilyUnknown NetworkFamily = iota
	// FamilyEVM covers Ethereum-compatible chains (EIP-3009 authorizations).
	FamilyEVM
	// FamilySolana covers Solana clusters (partially signed transactions).
	FamilySolana
)

func (f NetworkFamily) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilySolana:
		return "solana"
	default:
		return "unknown"
	}
}

// Network is an x402 network identifier.
type Network string

const (
	NetworkBase         Network = "base"
	NetworkBaseSepolia  Network = "base-sepolia"
	NetworkSolana       Network = "solana"
	NetworkSolanaDevnet Network = "solana-devnet"
)

// ChainConfig describes the stablecoin accepted on one network.
// USDC addresses were taken from Circle's published deployments.
type ChainConfig struct {
	Network Network
	Family  NetworkFamily

	// Asset is the USDC contract (EVM) or mint (Solana) address.
	Asset string

	// Decimals is the asset's fixed exponent. USDC uses 6 everywhere.
	Decimals int32

	// EIP712Name and EIP712Version are the token's EIP-712 domain parameters.
	// Empty for Solana.
	EIP712Name    string
	EIP712Version string
}

var defaultChains = map[Network]ChainConfig{
	NetworkBase: {
		Network:       NetworkBase,
		Family:        FamilyEVM,
		Asset:         "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:      6,
		EIP712Name:    "USD Coin",
		EIP712Version: "2",
	},
	NetworkBaseSepolia: {
		Network:       NetworkBaseSepolia,
		Family:        FamilyEVM,
		Asset:         "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:      6,
		EIP712Name:    "USDC",
		EIP712Version: "2",
	},
	NetworkSolana: {
		Network:  NetworkSolana,
		Family:   FamilySolana,
		Asset:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals: 6,
	},
	NetworkSolanaDevnet: {
		Network:  NetworkSolanaDevnet,
		Family:   FamilySolana,
		Asset:    "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals: 6,
	},
}

// Networks returns every supported network in a stable order.
func Networks() []Network {
	out := make([]Network, 0, len(defaultChains))
	for n := range defaultChains {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseNetwork converts a configured or client-supplied identifier into a Network.
func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := defaultChains[n]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, s)
	}
	return n, nil
}

// Valid reports whether n is one of the supported networks.
func (n Network) Valid() bool {
	_, ok := defaultChains[n]
	return ok
}

// Family returns the network's family, FamilyUnknown for an invalid value.
func (n Network) Family() NetworkFamily {
	return FamilyOf(n)
}

// FamilyOf classifies a network.
func FamilyOf(n Network) NetworkFamily {
	return defaultChains[n].Family
}

// AssetTable resolves the asset for each network, with per-deployment overrides
// applied on top of the built-in USDC defaults. It is immutable after construction.
type AssetTable struct {
	chains map[Network]ChainConfig
}

// AddressCheck validates an asset override for a family. The address package
// provides the real implementation; it is injected to keep this package free of
// chain SDK imports.
type AddressCheck func(address string, family NetworkFamily) (string, error)

// DefaultAssetTable returns the table with no overrides.
func DefaultAssetTable() *AssetTable {
	chains := make(map[Network]ChainConfig, len(defaultChains))
	for k, v := range defaultChains {
		chains[k] = v
	}
	return &AssetTable{chains: chains}
}

// NewAssetTable builds a table from overrides keyed by network identifier.
// Unknown networks and addresses that do not belong to the network's family are
// rejected here so a bad deployment never starts serving requests.
func NewAssetTable(overrides map[string]string, check AddressCheck) (*AssetTable, error) {
	t := DefaultAssetTable()
	for key, addr := range overrides {
		n, err := ParseNetwork(key)
		if err != nil {
			return nil, fmt.Errorf("asset override: %w", err)
		}
		cfg := t.chains[n]
		if check != nil {
			normalized, err := check(addr, cfg.Family)
			if err != nil {
				return nil, fmt.Errorf("asset override for %s: %w", n, err)
			}
			addr = normalized
		}
		cfg.Asset = addr
		t.chains[n] = cfg
	}
	return t, nil
}

// Chain returns the full configuration for n.
func (t *AssetTable) Chain(n Network) (ChainConfig, error) {
	cfg, ok := t.chains[n]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, n)
	}
	return cfg, nil
}

// AssetFor returns the stablecoin contract or mint for n.
func (t *AssetTable) AssetFor(n Network) (string, error) {
	cfg, err := t.Chain(n)
	if err != nil {
		return "", err
	}
	return cfg.Asset, nil
}
