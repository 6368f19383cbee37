package pocketbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pocketbase/pocketbase/core"

	"github.com/quillwire/x402-settle"
	httpx402 "github.com/quillwire/x402-settle/http"
	"github.com/quillwire/x402-settle/ledger"
	"github.com/quillwire/x402-settle/settlement"
)

type stubSettler struct {
	last    settlement.Request
	outcome *settlement.Outcome
	err     error
}

func (s *stubSettler) Purchase(_ context.Context, req settlement.Request) (*settlement.Outcome, error) {
	s.last = req
	return s.outcome, s.err
}

func (s *stubSettler) Tip(_ context.Context, req settlement.Request) (*settlement.Outcome, error) {
	s.last = req
	return s.outcome, s.err
}

func (s *stubSettler) Donate(_ context.Context, req settlement.Request) (*settlement.Outcome, error) {
	s.last = req
	return s.outcome, s.err
}

func newEvent(method, target, articleID, evidence string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	if articleID != "" {
		req.SetPathValue(httpx402.ArticleIDParam, articleID)
	}
	if evidence != "" {
		req.Header.Set("X-PAYMENT", evidence)
	}
	w := httptest.NewRecorder()
	e := &core.RequestEvent{}
	e.Request = req
	e.Response = w
	return e, w
}

// TestPocketBaseMiddleware_NoPaymentReturns402 tests that the hook chain stops with a challenge
func TestPocketBaseMiddleware_NoPaymentReturns402(t *testing.T) {
	stub := &stubSettler{outcome: &settlement.Outcome{
		State:       settlement.StateAwaitingPayment,
		Requirement: x402.PaymentRequirement{Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "50000"},
	}}
	middleware := NewPocketBaseX402Middleware(httpx402.NewHandler(stub, x402.NetworkBaseSepolia, nil), httpx402.OpPurchase)

	e, w := newEvent("POST", "/articles/a1/purchase", "a1", "")
	if err := middleware(e); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}

	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", w.Code)
	}
	if stub.last.ResourceID != "a1" {
		t.Errorf("Expected article from path value, got %q", stub.last.ResourceID)
	}
	if _, ok := OutcomeFrom(e); ok {
		t.Error("Challenge must not store an outcome")
	}
}

// TestPocketBaseMiddleware_RecordedPayment tests the outcome is stored for the route handler
func TestPocketBaseMiddleware_RecordedPayment(t *testing.T) {
	stub := &stubSettler{outcome: &settlement.Outcome{
		State:       settlement.StateRecorded,
		Requirement: x402.PaymentRequirement{Network: "base"},
		Payer:       "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		Settlement:  &x402.SettlementResponse{Success: true, Transaction: "0x2", Network: "base"},
		Record:      &ledger.Record{Kind: ledger.KindPurchase, Amount: "50000"},
	}}
	middleware := NewPocketBaseX402Middleware(httpx402.NewHandler(stub, x402.NetworkBase, nil), httpx402.OpPurchase)

	e, w := newEvent("POST", "/articles/a1/purchase", "a1", "evidence")
	if err := middleware(e); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}
	outcome, ok := OutcomeFrom(e)
	if !ok || outcome.TransactionHash() != "0x2" {
		t.Fatalf("Expected stored outcome, got %+v", outcome)
	}
	if ctxOutcome, ok := httpx402.OutcomeFromContext(e.Request.Context()); !ok || ctxOutcome != outcome {
		t.Error("Expected outcome in request context")
	}
	if w.Header().Get("X-PAYMENT-RESPONSE") == "" {
		t.Error("Expected X-PAYMENT-RESPONSE header")
	}

	if err := Receipt(e); err != nil {
		t.Fatalf("Receipt returned error: %v", err)
	}
	var receipt httpx402.Receipt
	if err := json.NewDecoder(w.Body).Decode(&receipt); err != nil {
		t.Fatalf("Failed to decode receipt: %v", err)
	}
	if receipt.ArticleID != "a1" || receipt.TransactionHash != "0x2" {
		t.Errorf("Unexpected receipt: %+v", receipt)
	}
}

// TestPocketBaseMiddleware_Rejection tests rejections are written and stop the chain
func TestPocketBaseMiddleware_Rejection(t *testing.T) {
	stub := &stubSettler{
		outcome: &settlement.Outcome{State: settlement.StateRejected},
		err:     x402.ErrFeePayerUnavailable,
	}
	middleware := NewPocketBaseX402Middleware(httpx402.NewHandler(stub, x402.NetworkSolana, nil), httpx402.OpDonation)

	e, w := newEvent("POST", "/donations?amount=5", "", "evidence")
	if err := middleware(e); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	if _, ok := OutcomeFrom(e); ok {
		t.Error("Rejection must not store an outcome")
	}
}
