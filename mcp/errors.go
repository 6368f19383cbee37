// Package mcp provides x402 payment integration for MCP (Model Context Protocol).
package mcp

import (
	"errors"
	"net/http"

	"github.com/quillwire/x402-settle"
)

// MCP-specific error types
//
// Payment rejections reuse the root x402 sentinels; only failures of the
// JSON-RPC envelope itself are defined here.
var (
	// ErrPaymentRequired indicates that a payment is required to access the resource (MCP-specific 402 signaling)
	ErrPaymentRequired = errors.New("payment required")

	// ErrInvalidRequest indicates that the MCP request is malformed
	ErrInvalidRequest = errors.New("invalid mcp request")
)

// JSON-RPC error codes used by the payment layer. PaymentRequiredCode follows
// the x402 MCP convention of reusing the HTTP status.
const (
	CodeParseError      = -32700
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	PaymentRequiredCode = http.StatusPaymentRequired
)

// CodeFor maps a payment error to its JSON-RPC error code. Caller-fixable
// rejections and duplicates carry their HTTP status; upstream and internal
// failures become internal errors.
func CodeFor(err error) int {
	if errors.Is(err, ErrPaymentRequired) {
		return PaymentRequiredCode
	}
	if errors.Is(err, ErrInvalidRequest) {
		return CodeInvalidParams
	}
	status := x402.StatusOf(err)
	if status >= http.StatusInternalServerError {
		return CodeInternalError
	}
	return status
}

// ErrorData is the data member of a payment rejection.
type ErrorData struct {
	X402Version int            `json:"x402Version"`
	Error       string         `json:"error"`
	Reason      x402.ErrorCode `json:"reason"`
}

// NewErrorData describes err for a JSON-RPC error response.
func NewErrorData(err error) ErrorData {
	message := err.Error()
	if x402.StatusOf(err) == http.StatusInternalServerError {
		message = "internal error"
	}
	return ErrorData{X402Version: x402.Version, Error: message, Reason: x402.ReasonOf(err)}
}
