package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/encoding"
	"github.com/quillwire/x402-settle/http/internal/helpers"
	"github.com/quillwire/x402-settle/ledger"
	"github.com/quillwire/x402-settle/settlement"
)

// stubSettler records the last request and answers with a canned outcome.
type stubSettler struct {
	last    settlement.Request
	called  string
	outcome *settlement.Outcome
	err     error
}

func (s *stubSettler) answer(op string, req settlement.Request) (*settlement.Outcome, error) {
	s.called = op
	s.last = req
	return s.outcome, s.err
}

func (s *stubSettler) Purchase(_ context.Context, req settlement.Request) (*settlement.Outcome, error) {
	return s.answer("purchase", req)
}

func (s *stubSettler) Tip(_ context.Context, req settlement.Request) (*settlement.Outcome, error) {
	return s.answer("tip", req)
}

func (s *stubSettler) Donate(_ context.Context, req settlement.Request) (*settlement.Outcome, error) {
	return s.answer("donate", req)
}

func recordedOutcome() *settlement.Outcome {
	return &settlement.Outcome{
		State:       settlement.StateRecorded,
		Requirement: x402.PaymentRequirement{Network: "base-sepolia", MaxAmountRequired: "50000"},
		Payer:       "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		Settlement: &x402.SettlementResponse{
			Success:     true,
			Transaction: "0xabc",
			Network:     "base-sepolia",
			Payer:       "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		},
		Record: &ledger.Record{Kind: ledger.KindPurchase, Amount: "50000"},
	}
}

func newMux(s Settler) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(s, x402.NetworkBaseSepolia, nil).Routes(mux)
	return mux
}

func TestMiddleware_NoPaymentReturns402(t *testing.T) {
	stub := &stubSettler{outcome: &settlement.Outcome{
		State: settlement.StateAwaitingPayment,
		Requirement: x402.PaymentRequirement{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "50000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		},
	}}

	req := httptest.NewRequest("POST", "http://example.com/articles/a1/purchase", nil)
	w := httptest.NewRecorder()
	newMux(stub).ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", w.Code)
	}
	var response x402.PaymentRequirementsResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Accepts) != 1 || response.Accepts[0].MaxAmountRequired != "50000" {
		t.Errorf("Unexpected accepts: %+v", response.Accepts)
	}
	if stub.called != "purchase" {
		t.Errorf("Expected purchase flow, got %q", stub.called)
	}
	if stub.last.ResourceID != "a1" {
		t.Errorf("Expected article a1, got %q", stub.last.ResourceID)
	}
	if stub.last.Network != x402.NetworkBaseSepolia {
		t.Errorf("Expected default network, got %q", stub.last.Network)
	}
	if stub.last.URL != "http://example.com/articles/a1/purchase" {
		t.Errorf("Unexpected resource URL %q", stub.last.URL)
	}
}

func TestMiddleware_RecordedPaymentReachesHandler(t *testing.T) {
	stub := &stubSettler{outcome: recordedOutcome()}
	h := NewHandler(stub, x402.NetworkBaseSepolia, nil)

	var seen *settlement.Outcome
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OutcomeFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := h.Middleware(OpPurchase, func(*http.Request) string { return "a1" })(next)

	req := httptest.NewRequest("POST", "/articles/a1/purchase?network=base", nil)
	req.Header.Set("X-PAYMENT", "evidence")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if seen == nil || seen.TransactionHash() != "0xabc" {
		t.Fatalf("Handler did not see the recorded outcome: %+v", seen)
	}
	if stub.last.Evidence != "evidence" {
		t.Errorf("Evidence not forwarded: %q", stub.last.Evidence)
	}
	if stub.last.Network != x402.NetworkBase {
		t.Errorf("Expected network from query, got %q", stub.last.Network)
	}

	settled, err := encoding.DecodeSettlement(w.Header().Get(helpers.PaymentResponseHeader))
	if err != nil {
		t.Fatalf("Failed to decode X-PAYMENT-RESPONSE: %v", err)
	}
	if settled.Transaction != "0xabc" {
		t.Errorf("Unexpected settlement header: %+v", settled)
	}
}

func TestMiddleware_RejectionSkipsHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason x402.ErrorCode
	}{
		{"duplicate", x402.Reject(x402.ErrAlreadySettled, "payment already recorded"), http.StatusConflict, x402.ErrCodeAlreadySettled},
		{"recipient", fmt.Errorf("%w: to 0x1", x402.ErrRecipientMismatch), http.StatusBadRequest, x402.ErrCodeRecipientMismatch},
		{"facilitator down", fmt.Errorf("%w: timeout", x402.ErrFacilitatorUnreachable), http.StatusBadGateway, x402.ErrCodeFacilitatorUnreachable},
		{"fee payer", x402.ErrFeePayerUnavailable, http.StatusServiceUnavailable, x402.ErrCodeFeePayerUnavailable},
		{"unknown article", fmt.Errorf("%w: nope", x402.ErrResourceNotFound), http.StatusNotFound, x402.ErrCodeResourceNotFound},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError, x402.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
			h := NewHandler(&stubSettler{err: tt.err, outcome: &settlement.Outcome{State: settlement.StateRejected}}, x402.NetworkBase, nil)

			req := httptest.NewRequest("POST", "/articles/a1/purchase", nil)
			req.Header.Set("X-PAYMENT", "evidence")
			w := httptest.NewRecorder()
			h.Middleware(OpPurchase, func(*http.Request) string { return "a1" })(next).ServeHTTP(w, req)

			if called {
				t.Error("Handler should not run for a rejected payment")
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body helpers.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode body: %v", err)
			}
			if body.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", body.Reason, tt.wantReason)
			}
			if w.Header().Get(helpers.PaymentResponseHeader) != "" {
				t.Error("Rejected payment must not carry X-PAYMENT-RESPONSE")
			}
		})
	}
}

func TestMiddleware_TipAndDonationAmounts(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantFlow   string
		wantStatus int
		wantAmount string
		wantID     string
	}{
		{"tip", "/articles/a1/tip?amount=2.50", "tip", http.StatusOK, "2.5", "a1"},
		{"donation", "/donations?amount=10&network=solana-devnet", "donate", http.StatusOK, "10", ""},
		{"missing amount", "/donations", "", http.StatusBadRequest, "", ""},
		{"garbage amount", "/articles/a1/tip?amount=lots", "", http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubSettler{outcome: recordedOutcome()}
			req := httptest.NewRequest("POST", tt.target, nil)
			req.Header.Set("X-PAYMENT", "evidence")
			w := httptest.NewRecorder()
			newMux(stub).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if stub.called != tt.wantFlow {
				t.Errorf("flow = %q, want %q", stub.called, tt.wantFlow)
			}
			if tt.wantFlow == "" {
				return
			}
			if got := stub.last.Amount.String(); got != tt.wantAmount {
				t.Errorf("amount = %s, want %s", got, tt.wantAmount)
			}
			if stub.last.ResourceID != tt.wantID {
				t.Errorf("resource = %q, want %q", stub.last.ResourceID, tt.wantID)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	if OpDonation.String() != "donation" {
		t.Errorf("OpDonation.String() = %q", OpDonation.String())
	}
	if Operation(9).String() != "operation(9)" {
		t.Errorf("unknown operation = %q", Operation(9).String())
	}
}
