// Package facilitator defines the contract with the external service that verifies
// and settles signed payment evidence, plus the process-wide capability cache built
// from its /supported endpoint.
package facilitator

import (
	"context"

	"github.com/quillwire/x402-settle"
)

// Interface defines the standard facilitator contract for payment verification and settlement.
//
// Implementations must return an error wrapping x402.ErrFacilitatorUnreachable for
// transport failures and a response value for a facilitator verdict, positive or
// negative, so callers can tell an outage from a rejected payment.
type Interface interface {
	// Verify checks a payment authorization without executing the transaction.
	Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on the blockchain. It is never retried.
	Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error)

	// Supported queries the facilitator for supported payment types.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// FeePayer returns extra.feePayer, if any.
func (k SupportedKind) FeePayer() string {
	if k.Extra == nil {
		return ""
	}
	s, _ := k.Extra["feePayer"].(string)
	return s
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
