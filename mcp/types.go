package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/quillwire/x402-settle"
)

// MCP-specific constants for payment metadata keys
const (
	// MetaKeyPayment is the key for payment data in MCP request params._meta
	MetaKeyPayment = "x402/payment"

	// MetaKeyPaymentResponse is the key for settlement response in MCP result._meta
	MetaKeyPaymentResponse = "x402/payment-response"
)

// Tool argument names shared by the article tools.
const (
	ArgArticleID = "articleId"
	ArgNetwork   = "network"
	ArgAmount    = "amount"
)

// PaymentFromMeta extracts the payment from params._meta["x402/payment"]. It
// returns nil without error when the client sent no payment.
func PaymentFromMeta(meta map[string]interface{}) (*x402.PaymentPayload, error) {
	if meta == nil {
		return nil, nil
	}
	paymentData, ok := meta[MetaKeyPayment]
	if !ok || paymentData == nil {
		return nil, nil
	}

	paymentBytes, err := json.Marshal(paymentData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidPayload, err)
	}
	var payment x402.PaymentPayload
	if err := json.Unmarshal(paymentBytes, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}
