// Package encoding converts x402 payloads to and from the base64 JSON form used in
// the X-PAYMENT and X-PAYMENT-RESPONSE headers and in MCP _meta fields.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quillwire/x402-settle"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
//
// Returns an error wrapping x402.ErrMalformedHeader if the value is not base64 or
// not JSON, and x402.ErrInvalidPayload if the JSON does not describe a known
// payload variant.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	decoded, err := decodeBase64(encoded)
	if err != nil {
		return payment, fmt.Errorf("%w: failed to decode base64: %v", x402.ErrMalformedHeader, err)
	}
	if !json.Valid(decoded) {
		return payment, fmt.Errorf("%w: header is not JSON", x402.ErrMalformedHeader)
	}
	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, err
	}
	return payment, nil
}

// EncodeSettlement converts a SettlementResponse to a base64-encoded JSON string.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a SettlementResponse.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse

	decoded, err := decodeBase64(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}
	return settlement, nil
}

// decodeBase64 accepts standard base64 and, for clients that build headers with
// URL-safe helpers, the URL alphabet with or without padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
