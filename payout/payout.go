// Package payout picks the wallet an author is paid on for a requested network.
//
// An author configures a primary method and, optionally, a secondary one. Each
// method is a (network, address) pair; the two may belong to different network
// families so an author can accept EVM payments on one wallet and Solana on another.
// A single address is never reused across families.
package payout

import (
	"fmt"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/address"
)

// Method is one configured payout destination.
type Method struct {
	Network x402.Network `json:"network" yaml:"network"`
	Address string       `json:"address" yaml:"address"`
}

// Family returns the method's network family.
func (m Method) Family() x402.NetworkFamily {
	return m.Network.Family()
}

// Profile holds an author's payout methods. Primary is always present.
type Profile struct {
	Primary   Method  `json:"primary" yaml:"primary"`
	Secondary *Method `json:"secondary,omitempty" yaml:"secondary,omitempty"`
}

// NewMethod validates and normalizes a payout method.
func NewMethod(network x402.Network, addr string) (Method, error) {
	if !network.Valid() {
		return Method{}, fmt.Errorf("%w: %q", x402.ErrUnsupportedNetwork, network)
	}
	normalized, err := address.Normalize(addr, network.Family())
	if err != nil {
		return Method{}, err
	}
	return Method{Network: network, Address: normalized}, nil
}

// NewProfile creates a profile with only a primary method.
func NewProfile(network x402.Network, addr string) (Profile, error) {
	m, err := NewMethod(network, addr)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Primary: m}, nil
}

// SetSecondary returns a copy of p with its secondary method replaced.
func (p Profile) SetSecondary(network x402.Network, addr string) (Profile, error) {
	m, err := NewMethod(network, addr)
	if err != nil {
		return p, err
	}
	p.Secondary = &m
	return p, nil
}

// RemoveSecondary returns a copy of p without a secondary method.
func (p Profile) RemoveSecondary() Profile {
	p.Secondary = nil
	return p
}

// Methods returns the configured methods, primary first.
func (p Profile) Methods() []Method {
	if p.Secondary == nil {
		return []Method{p.Primary}
	}
	return []Method{p.Primary, *p.Secondary}
}

// ResolvePayTo returns the address to pay for network. The primary method wins
// when its family matches; otherwise the secondary is used when its family
// matches. The result is normalized for the requested family.
func ResolvePayTo(p Profile, network x402.Network) (string, error) {
	family := network.Family()
	if family == x402.FamilyUnknown {
		return "", fmt.Errorf("%w: %q", x402.ErrUnsupportedNetwork, network)
	}

	for _, m := range p.Methods() {
		if m.Family() != family {
			continue
		}
		return address.Normalize(m.Address, family)
	}
	return "", fmt.Errorf("%w: no %s payout method configured for %s", x402.ErrUnsupportedPayoutNetwork, family, network)
}
