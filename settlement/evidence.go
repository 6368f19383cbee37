package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	x402 "github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/ledger"
)

// donationResource is the ledger resource for donations, which have no article.
const donationResource = "donations"

// ledgerKey is the resource half of the ledger's unique key. A purchase is
// keyed by the article so a payer buys it once. Tips and donations may repeat,
// so their key also carries a fingerprint of the evidence: the same signed
// authorization still cannot be recorded twice.
func ledgerKey(r *run) string {
	if r.flow.Kind == ledger.KindPurchase {
		return r.req.ResourceID
	}
	base := r.req.ResourceID
	if base == "" {
		base = donationResource
	}
	return base + "#" + evidenceFingerprint(r.payment)
}

func evidenceFingerprint(p x402.PaymentPayload) string {
	switch pl := p.Payload.(type) {
	case *x402.EVMPayload:
		return strings.ToLower(pl.Authorization.Nonce)
	case *x402.SVMPayload:
		sum := sha256.Sum256([]byte(pl.Transaction))
		return hex.EncodeToString(sum[:16])
	default:
		return ""
	}
}

// evidenceDigest identifies the exact signed evidence, signature included, so
// a lookup by it cannot be satisfied by a payload someone else assembled.
func evidenceDigest(p x402.PaymentPayload) string {
	var material string
	switch pl := p.Payload.(type) {
	case *x402.EVMPayload:
		material = strings.ToLower(pl.Signature) + "|" + strings.ToLower(pl.Authorization.Nonce)
	case *x402.SVMPayload:
		material = pl.Transaction
	default:
		return ""
	}
	sum := sha256.Sum256([]byte(p.Network + "|" + material))
	return hex.EncodeToString(sum[:])
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
