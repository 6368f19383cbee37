// Package address canonicalizes wallet addresses per network family. It does no I/O.
package address

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/quillwire/x402-settle"
)

// Normalize returns the canonical form of addr for family: EIP-55 checksum case
// for EVM and base58 of the 32-byte public key for Solana.
func Normalize(addr string, family x402.NetworkFamily) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", x402.ErrInvalidAddress)
	}

	switch family {
	case x402.FamilyEVM:
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("%w: %q is not a 20-byte hex address", x402.ErrInvalidAddress, addr)
		}
		// IsHexAddress also accepts a missing 0x prefix; HexToAddress copes with both.
		return common.HexToAddress(addr).Hex(), nil

	case x402.FamilySolana:
		// Token accounts and PDAs are off-curve, so only the length is checked.
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", x402.ErrInvalidAddress, addr, err)
		}
		return pk.String(), nil

	default:
		return "", fmt.Errorf("%w: unknown network family %v", x402.ErrInvalidAddress, family)
	}
}

// TryNormalize is Normalize for best-effort contexts such as a payer that may be a
// relayed sender.
func TryNormalize(addr string, family x402.NetworkFamily) (string, bool) {
	out, err := Normalize(addr, family)
	if err != nil {
		return "", false
	}
	return out, true
}

// NormalizeFlexible tries EVM first, then Solana, for addresses whose family is
// not known yet.
func NormalizeFlexible(addr string) (string, x402.NetworkFamily, error) {
	if out, ok := TryNormalize(addr, x402.FamilyEVM); ok {
		return out, x402.FamilyEVM, nil
	}
	if out, ok := TryNormalize(addr, x402.FamilySolana); ok {
		return out, x402.FamilySolana, nil
	}
	return "", x402.FamilyUnknown, fmt.Errorf("%w: %q is neither an EVM nor a Solana address", x402.ErrInvalidAddress, addr)
}

// Equal reports whether a and b are the same address in family.
func Equal(a, b string, family x402.NetworkFamily) bool {
	na, ok := TryNormalize(a, family)
	if !ok {
		return false
	}
	nb, ok := TryNormalize(b, family)
	return ok && na == nb
}

// Check adapts Normalize to x402.AddressCheck for asset table overrides.
func Check(addr string, family x402.NetworkFamily) (string, error) {
	return Normalize(addr, family)
}
