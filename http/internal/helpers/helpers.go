// Package helpers provides shared response helpers for the paywall handler and
// its Chi, Gin and PocketBase adapters, so every router answers with the same
// status codes, headers and bodies.
package helpers

import (
	"encoding/json"
	"net/http"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/encoding"
)

const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// ErrorResponse is the body of every rejection.
type ErrorResponse struct {
	X402Version int            `json:"x402Version"`
	Error       string         `json:"error"`
	Reason      x402.ErrorCode `json:"reason"`
}

// SendPaymentRequired sends a 402 Payment Required response with payment requirements in JSON format.
// The response includes x402Version field and the list of accepted payment methods.
func SendPaymentRequired(w http.ResponseWriter, requirements []x402.PaymentRequirement) {
	response := x402.PaymentRequirementsResponse{
		X402Version: x402.Version,
		Error:       "Payment required for this resource",
		Accepts:     requirements,
	}
	WriteJSON(w, http.StatusPaymentRequired, response)
}

// SendError writes err with the status and reason its sentinel maps to.
// Unclassified errors are reported as a bare internal error so upstream
// details never reach the client.
func SendError(w http.ResponseWriter, err error) {
	status := x402.StatusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	WriteJSON(w, status, ErrorResponse{
		X402Version: x402.Version,
		Error:       message,
		Reason:      x402.ReasonOf(err),
	})
}

// AddPaymentResponseHeader adds the X-PAYMENT-RESPONSE header with base64-encoded settlement information.
// The header contains JSON-encoded SettlementResponse data.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement *x402.SettlementResponse) error {
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	w.Header().Set(PaymentResponseHeader, encoded)
	return nil
}

// ResourceURL rebuilds the absolute URL of the request.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "https" || fwd == "http" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// WriteJSON writes v with status. Encoding errors are ignored because the
// status line has already been sent.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
