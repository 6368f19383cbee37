package x402

import (
	"errors"
	"fmt"
	"net/http"
)

// Settlement error taxonomy. Every rejection produced by the engine wraps exactly
// one of these, so callers can branch with errors.Is.
var (
	// ErrInvalidAddress indicates an address that does not parse for its network family.
	ErrInvalidAddress = errors.New("x402: invalid address")

	// ErrInvalidPayload indicates payment evidence that cannot be decoded or is structurally wrong.
	ErrInvalidPayload = errors.New("x402: invalid payment payload")

	// ErrInsufficientAmount indicates the authorization declares less than the requirement.
	ErrInsufficientAmount = errors.New("x402: insufficient payment amount")

	// ErrUnsupportedPayoutNetwork indicates the recipient has no payout method for the network family.
	ErrUnsupportedPayoutNetwork = errors.New("x402: no payout method for network")

	// ErrFeePayerUnavailable indicates the facilitator's Solana fee payer could not be loaded.
	ErrFeePayerUnavailable = errors.New("x402: fee payer unavailable")

	// ErrFacilitatorUnreachable indicates a transport-level facilitator failure.
	ErrFacilitatorUnreachable = errors.New("x402: facilitator unreachable")

	// ErrVerificationFailed indicates the facilitator rejected the evidence.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrRecipientMismatch indicates the authorization pays someone other than the expected recipient.
	ErrRecipientMismatch = errors.New("x402: recipient mismatch")

	// ErrAlreadySettled indicates the payer already paid for the resource.
	ErrAlreadySettled = errors.New("x402: payment already settled")

	// ErrSettlementFailed indicates the facilitator could not settle the authorization.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrSettlementPending indicates a settle whose outcome is unknown. The
	// reservation stays until an operator completes or releases it.
	ErrSettlementPending = errors.New("x402: settlement outcome pending")

	ErrUnsupportedNetwork = errors.New("x402: unsupported network")
	ErrInvalidAmount      = errors.New("x402: invalid amount")
	ErrMalformedHeader    = errors.New("x402: malformed payment header")
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")
	ErrUnsupportedScheme  = errors.New("x402: unsupported payment scheme")
	ErrResourceNotFound   = errors.New("x402: resource not found")
)

// ErrorCode is the stable machine-readable reason returned to clients.
type ErrorCode string

const (
	ErrCodeInvalidAddress           ErrorCode = "invalid_address"
	ErrCodeInvalidPayload           ErrorCode = "invalid_payload"
	ErrCodeInsufficientAmount       ErrorCode = "insufficient_amount"
	ErrCodeUnsupportedPayoutNetwork ErrorCode = "unsupported_payout_network"
	ErrCodeFeePayerUnavailable      ErrorCode = "fee_payer_unavailable"
	ErrCodeFacilitatorUnreachable   ErrorCode = "facilitator_unreachable"
	ErrCodeVerificationFailed       ErrorCode = "verification_failed"
	ErrCodeRecipientMismatch        ErrorCode = "recipient_mismatch"
	ErrCodeAlreadySettled           ErrorCode = "already_settled"
	ErrCodeSettlementFailed         ErrorCode = "settlement_failed"
	ErrCodeSettlementPending        ErrorCode = "settlement_pending"
	ErrCodeUnsupportedNetwork       ErrorCode = "unsupported_network"
	ErrCodeInvalidAmount            ErrorCode = "invalid_amount"
	ErrCodeResourceNotFound         ErrorCode = "resource_not_found"
	ErrCodePaymentRequired          ErrorCode = "payment_required"
	ErrCodeInternal                 ErrorCode = "internal_error"
)

type classification struct {
	sentinel error
	code     ErrorCode
	status   int
}

// Order matters only for errors wrapping more than one sentinel; the first match wins.
var classifications = []classification{
	{ErrSettlementPending, ErrCodeSettlementPending, http.StatusServiceUnavailable},
	{ErrAlreadySettled, ErrCodeAlreadySettled, http.StatusConflict},
	{ErrFacilitatorUnreachable, ErrCodeFacilitatorUnreachable, http.StatusBadGateway},
	{ErrFeePayerUnavailable, ErrCodeFeePayerUnavailable, http.StatusServiceUnavailable},
	{ErrInvalidAddress, ErrCodeInvalidAddress, http.StatusBadRequest},
	{ErrInvalidPayload, ErrCodeInvalidPayload, http.StatusBadRequest},
	{ErrMalformedHeader, ErrCodeInvalidPayload, http.StatusBadRequest},
	{ErrUnsupportedVersion, ErrCodeInvalidPayload, http.StatusBadRequest},
	{ErrUnsupportedScheme, ErrCodeInvalidPayload, http.StatusBadRequest},
	{ErrInsufficientAmount, ErrCodeInsufficientAmount, http.StatusBadRequest},
	{ErrUnsupportedPayoutNetwork, ErrCodeUnsupportedPayoutNetwork, http.StatusBadRequest},
	{ErrVerificationFailed, ErrCodeVerificationFailed, http.StatusBadRequest},
	{ErrRecipientMismatch, ErrCodeRecipientMismatch, http.StatusBadRequest},
	{ErrSettlementFailed, ErrCodeSettlementFailed, http.StatusBadRequest},
	{ErrUnsupportedNetwork, ErrCodeUnsupportedNetwork, http.StatusBadRequest},
	{ErrInvalidAmount, ErrCodeInvalidAmount, http.StatusBadRequest},
	{ErrResourceNotFound, ErrCodeResourceNotFound, http.StatusNotFound},
}

// PaymentError is a rejection with a stable code and optional details for logs
// and response bodies.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]any
}

// NewPaymentError creates a PaymentError wrapping err.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Err: err}
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair and returns e for chaining.
func (e *PaymentError) WithDetails(key string, value any) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Reject wraps a sentinel into a PaymentError with the sentinel's own code.
func Reject(sentinel error, message string) *PaymentError {
	return NewPaymentError(ReasonOf(sentinel), message, sentinel)
}

// ReasonOf returns the stable code for err. A PaymentError's explicit code wins.
func ReasonOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *PaymentError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	for _, c := range classifications {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return ErrCodeInternal
}

// StatusOf maps err to an HTTP status class: 400 for caller-fixable input,
// 409 for duplicates, 502/503 for upstream trouble and 500 for anything else.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, c := range classifications {
		if errors.Is(err, c.sentinel) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the whole request may be retried with the same
// evidence. A pending settlement is not: the evidence may already be spent.
func Retryable(err error) bool {
	if errors.Is(err, ErrSettlementPending) {
		return false
	}
	return errors.Is(err, ErrFacilitatorUnreachable) || errors.Is(err, ErrFeePayerUnavailable)
}
