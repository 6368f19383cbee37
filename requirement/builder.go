// Package requirement assembles the PaymentRequirement sent in a 402 challenge.
package requirement

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	x402 "github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/address"
	"github.com/quillwire/x402-settle/payout"
)

const (
	DefaultMaxTimeoutSeconds = 300
	DefaultMimeType          = "application/json"
)

// FeePayerSource looks up the facilitator's fee payer for a network.
// *facilitator.Capabilities implements it.
type FeePayerSource interface {
	FeePayer(ctx context.Context, network x402.Network) (string, error)
}

// Resource describes what is being paid for.
type Resource struct {
	// URL is the resource URI placed in the requirement.
	URL         string
	Description string
}

// Builder builds requirements for one deployment's asset table.
type Builder struct {
	Assets    *x402.AssetTable
	FeePayers FeePayerSource

	// MaxTimeoutSeconds defaults to 300.
	MaxTimeoutSeconds int
	// MimeType defaults to "application/json".
	MimeType string
}

// Build resolves payTo from an author's payout profile and builds the requirement.
func (b *Builder) Build(ctx context.Context, res Resource, profile payout.Profile, network x402.Network, price decimal.Decimal) (x402.PaymentRequirement, error) {
	payTo, err := payout.ResolvePayTo(profile, network)
	if err != nil {
		return x402.PaymentRequirement{}, err
	}
	return b.BuildFor(ctx, res, payTo, network, price)
}

// BuildFor builds a requirement paying a fixed recipient, as used for tips
// and donations to the platform.
func (b *Builder) BuildFor(ctx context.Context, res Resource, payTo string, network x402.Network, price decimal.Decimal) (x402.PaymentRequirement, error) {
	chain, err := b.Chain(network)
	if err != nil {
		return x402.PaymentRequirement{}, err
	}

	recipient, err := address.Normalize(payTo, chain.Family)
	if err != nil {
		return x402.PaymentRequirement{}, fmt.Errorf("payTo: %w", err)
	}

	amount, err := x402.ToMinorUnits(price, chain.Decimals)
	if err != nil {
		return x402.PaymentRequirement{}, err
	}

	extra := map[string]interface{}{
		"price": DisplayPrice(price),
	}
	switch chain.Family {
	case x402.FamilyEVM:
		extra["name"] = chain.EIP712Name
		extra["version"] = chain.EIP712Version
	case x402.FamilySolana:
		if b.FeePayers == nil {
			return x402.PaymentRequirement{}, fmt.Errorf("%w: no capability source configured", x402.ErrFeePayerUnavailable)
		}
		feePayer, err := b.FeePayers.FeePayer(ctx, network)
		if err != nil {
			return x402.PaymentRequirement{}, err
		}
		extra["feePayer"] = feePayer
	}

	timeout := b.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = DefaultMaxTimeoutSeconds
	}
	mimeType := b.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	return x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           string(network),
		MaxAmountRequired: amount.String(),
		Asset:             chain.Asset,
		PayTo:             recipient,
		Resource:          res.URL,
		Description:       res.Description,
		MimeType:          mimeType,
		MaxTimeoutSeconds: timeout,
		Extra:             extra,
	}, nil
}

// Chain returns the asset configuration requirements for n are built from.
func (b *Builder) Chain(n x402.Network) (x402.ChainConfig, error) {
	return b.assets().Chain(n)
}

func (b *Builder) assets() *x402.AssetTable {
	if b.Assets == nil {
		return x402.DefaultAssetTable()
	}
	return b.Assets
}

// DisplayPrice formats a USD price with at least two decimals and never rounds,
// so $0.005 is shown as such rather than as $0.01.
func DisplayPrice(price decimal.Decimal) string {
	s := price.String()
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > 2 {
		return "$" + s
	}
	return "$" + price.StringFixed(2)
}
