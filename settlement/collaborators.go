package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	x402 "github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/address"
	"github.com/quillwire/x402-settle/ledger"
	"github.com/quillwire/x402-settle/payout"
	"github.com/quillwire/x402-settle/requirement"
)

// Resource is a priced article as the content store sees it.
type Resource struct {
	ID       string
	AuthorID string
	Title    string
	URL      string
	Price    decimal.Decimal
}

// StatsDelta is applied to a resource after a payment is recorded.
type StatsDelta struct {
	Kind     ledger.Kind
	Count    int64
	Earnings decimal.Decimal
}

// ResourceStore is the article store. GetByID returns an error wrapping
// x402.ErrResourceNotFound for unknown IDs. RecordPurchaseStats may race with
// concurrent purchases; the counters are for display only.
type ResourceStore interface {
	GetByID(ctx context.Context, id string) (Resource, error)
	RecordPurchaseStats(ctx context.Context, id string, delta StatsDelta) error
}

// ProfileStore looks up an author's payout profile by author ID or by any of
// the author's wallet addresses.
type ProfileStore interface {
	GetPayoutProfile(ctx context.Context, addressOrID string) (payout.Profile, error)
}

// OwnerLookup maps a Solana token account to its owning wallet.
// *svm.OwnerResolver implements it.
type OwnerLookup interface {
	ResolveOwner(ctx context.Context, addr string) (string, error)
}

// RecipientStrategy builds the requirement for a resource, deciding who is paid.
type RecipientStrategy interface {
	Requirement(ctx context.Context, b *requirement.Builder, res Resource, network x402.Network, price decimal.Decimal) (x402.PaymentRequirement, error)
}

// AuthorPayout pays the resource author through their payout profile.
type AuthorPayout struct {
	Profiles ProfileStore
}

func (a AuthorPayout) Requirement(ctx context.Context, b *requirement.Builder, res Resource, network x402.Network, price decimal.Decimal) (x402.PaymentRequirement, error) {
	profile, err := a.Profiles.GetPayoutProfile(ctx, res.AuthorID)
	if err != nil {
		return x402.PaymentRequirement{}, fmt.Errorf("payout profile for %s: %w", res.AuthorID, err)
	}
	return b.Build(ctx, describe(res), profile, network, price)
}

// FixedRecipient pays a platform wallet per network family.
type FixedRecipient map[x402.NetworkFamily]string

// NewFixedRecipient normalizes each wallet for its family.
func NewFixedRecipient(wallets map[x402.NetworkFamily]string) (FixedRecipient, error) {
	out := make(FixedRecipient, len(wallets))
	for family, addr := range wallets {
		normalized, err := address.Normalize(addr, family)
		if err != nil {
			return nil, fmt.Errorf("%s platform wallet: %w", family, err)
		}
		out[family] = normalized
	}
	return out, nil
}

func (f FixedRecipient) Requirement(ctx context.Context, b *requirement.Builder, res Resource, network x402.Network, price decimal.Decimal) (x402.PaymentRequirement, error) {
	payTo, ok := f[network.Family()]
	if !ok {
		return x402.PaymentRequirement{}, fmt.Errorf("%w: no platform wallet for %s", x402.ErrUnsupportedPayoutNetwork, network)
	}
	return b.BuildFor(ctx, describe(res), payTo, network, price)
}

func describe(res Resource) requirement.Resource {
	return requirement.Resource{URL: res.URL, Description: res.Title}
}
