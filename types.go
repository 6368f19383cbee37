package x402

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Version is the only protocol version this package speaks.
const Version = 1

// SchemeExact is the only payment scheme accepted by the settlement engine.
const SchemeExact = "exact"

// PaymentRequirement represents a single payment option from a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (always "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base", "solana").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units, as a decimal string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset"`

	// PayTo is the recipient address, normalized for the network family.
	PayTo string `json:"payTo"`

	// Resource is the URI of the purchased resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable payment description.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra contains scheme-specific additional data: display price, EIP-712
	// domain for EVM tokens and the fee payer for Solana.
	Extra map[string]interface{} `json:"extra"`
}

// Validate checks that a requirement is complete enough to send to a facilitator.
func (r PaymentRequirement) Validate() error {
	if r.Scheme == "" {
		return fmt.Errorf("%w: scheme is required", ErrUnsupportedScheme)
	}
	if _, err := ParseNetwork(r.Network); err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(r.MaxAmountRequired, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("%w: maxAmountRequired %q", ErrInvalidAmount, r.MaxAmountRequired)
	}
	if r.PayTo == "" || r.Asset == "" {
		return fmt.Errorf("%w: payTo and asset are required", ErrInvalidAddress)
	}
	if r.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("maxTimeoutSeconds must be positive, got %d", r.MaxTimeoutSeconds)
	}
	return nil
}

// RequiredAmount returns MaxAmountRequired as an integer.
func (r PaymentRequirement) RequiredAmount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(r.MaxAmountRequired, 10)
	if !ok {
		return nil, fmt.Errorf("%w: maxAmountRequired %q", ErrInvalidAmount, r.MaxAmountRequired)
	}
	return amount, nil
}

// FeePayer returns extra.feePayer, if any.
func (r PaymentRequirement) FeePayer() string {
	if r.Extra == nil {
		return ""
	}
	s, _ := r.Extra["feePayer"].(string)
	return s
}

// PaymentRequirementsResponse represents the complete 402 response body.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// SchemePayload is the chain-specific part of a PaymentPayload. It is sealed:
// the only implementations are *EVMPayload and *SVMPayload.
type SchemePayload interface {
	Family() NetworkFamily
	isSchemePayload()
}

// PaymentPayload represents the signed payment evidence sent by a client.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload is either *EVMPayload or *SVMPayload. The variant is chosen from
	// the payload's shape when decoding and must agree with Network's family.
	Payload SchemePayload `json:"payload"`
}

// UnmarshalJSON decodes the envelope and resolves the payload variant.
func (p *PaymentPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		X402Version int             `json:"x402Version"`
		Scheme      string          `json:"scheme"`
		Network     string          `json:"network"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	payload, err := decodeSchemePayload(raw.Payload)
	if err != nil {
		return err
	}

	p.X402Version = raw.X402Version
	p.Scheme = raw.Scheme
	p.Network = raw.Network
	p.Payload = payload

	if n, err := ParseNetwork(raw.Network); err == nil && n.Family() != payload.Family() {
		return fmt.Errorf("%w: %s payload on %s network", ErrInvalidPayload, payload.Family(), n)
	}
	return nil
}

func decodeSchemePayload(data json.RawMessage) (SchemePayload, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidPayload)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrInvalidPayload)
	}

	_, hasAuth := probe["authorization"]
	_, hasTx := probe["transaction"]
	switch {
	case hasAuth && hasTx:
		return nil, fmt.Errorf("%w: ambiguous payload shape", ErrInvalidPayload)
	case hasAuth:
		var evm EVMPayload
		if err := json.Unmarshal(data, &evm); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return &evm, nil
	case hasTx:
		var svm SVMPayload
		if err := json.Unmarshal(data, &svm); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if svm.Transaction == "" {
			return nil, fmt.Errorf("%w: empty transaction", ErrInvalidPayload)
		}
		return &svm, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized payload shape", ErrInvalidPayload)
	}
}

// EVMPayload represents an EVM payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

func (*EVMPayload) Family() NetworkFamily { return FamilyEVM }
func (*EVMPayload) isSchemePayload()      {}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// SVMPayload represents a Solana payment with a partially signed transaction.
type SVMPayload struct {
	// Transaction is the base64-encoded partially signed Solana transaction.
	// The client signs with their private key, and the facilitator adds the fee payer signature.
	Transaction string `json:"transaction"`
}

func (*SVMPayload) Family() NetworkFamily { return FamilySolana }
func (*SVMPayload) isSchemePayload()      {}

// SettlementResponse represents the facilitator's answer to a settle call. It is
// also what the server returns in the X-PAYMENT-RESPONSE header.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash. Some networks settle
	// without returning one immediately.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer"`
}

// ToMinorUnits shifts a major-unit price by the asset exponent. The result must be
// a positive integer: "0.05" with 6 decimals is 50000, "0.0000001" is rejected.
func ToMinorUnits(price decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := price.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, price, decimals)
	}
	if shifted.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, price)
	}
	return shifted.BigInt(), nil
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return ToMinorUnits(d, int32(decimals))
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).StringFixed(int32(decimals))
}
