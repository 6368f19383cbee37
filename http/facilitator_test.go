package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/facilitator"
)

func testRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Resource:          "https://quillwire.example/articles/42",
		Description:       "Article purchase",
		MaxTimeoutSeconds: 60,
	}
}

func testPayment() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload: &x402.EVMPayload{
			Signature: "0xdeadbeef",
			Authorization: x402.EVMAuthorization{
				From:  "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:    "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Value: "10000",
			},
		},
	}
}

func newTestClient(url string) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL:  url,
		Client:   &http.Client{},
		Timeouts: x402.DefaultTimeouts,
	}
}

func TestFacilitatorClient_Verify(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("Expected path /verify, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		var req FacilitatorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if _, ok := req.PaymentPayload.Payload.(*x402.EVMPayload); !ok {
			t.Errorf("payload variant lost in transit: %T", req.PaymentPayload.Payload)
		}
		if req.PaymentRequirements.MaxAmountRequired != "10000" {
			t.Errorf("requirement not forwarded: %+v", req.PaymentRequirements)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(facilitator.VerifyResponse{
			IsValid: true,
			Payer:   "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		})
	}))
	defer mockServer.Close()

	resp, err := newTestClient(mockServer.URL).Verify(context.Background(), testPayment(), testRequirement())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !resp.IsValid {
		t.Error("Expected IsValid to be true")
	}
	if resp.Payer != "0x857b06519E91e3A54538791bDbb0E22373e36b66" {
		t.Errorf("Expected payer address, got %s", resp.Payer)
	}
}

func TestFacilitatorClient_VerifyNegativeIsAResult(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
	}{
		{"200 invalid", http.StatusOK, `{"isValid":false,"invalidReason":"invalid_signature"}`, "invalid_signature"},
		{"400 with reason", http.StatusBadRequest, `{"isValid":false,"invalidReason":"expired"}`, "expired"},
		{"400 with error field", http.StatusBadRequest, `{"error":"bad nonce"}`, "bad nonce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := newTestClient(srv.URL).Verify(context.Background(), testPayment(), testRequirement())
			if err != nil {
				t.Fatalf("a facilitator verdict must not be an error, got %v", err)
			}
			if resp.IsValid {
				t.Error("expected IsValid=false")
			}
			if resp.InvalidReason != tt.wantReason {
				t.Errorf("InvalidReason = %q, want %q", resp.InvalidReason, tt.wantReason)
			}
		})
	}
}

func TestFacilitatorClient_Unreachable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"bad gateway", http.StatusBadGateway, ``},
		{"rate limited", http.StatusTooManyRequests, ``},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad token"}`},
		{"html error page", http.StatusBadRequest, `<html>nope</html>`},
		{"garbage 200", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := newTestClient(srv.URL)
			_, err := client.Verify(context.Background(), testPayment(), testRequirement())
			if !errors.Is(err, x402.ErrFacilitatorUnreachable) {
				t.Errorf("Verify error = %v, want ErrFacilitatorUnreachable", err)
			}
			_, err = client.Settle(context.Background(), testPayment(), testRequirement())
			if !errors.Is(err, x402.ErrFacilitatorUnreachable) {
				t.Errorf("Settle error = %v, want ErrFacilitatorUnreachable", err)
			}
		})
	}
}

func TestFacilitatorClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Supported(context.Background())
	if !errors.Is(err, x402.ErrFacilitatorUnreachable) {
		t.Errorf("expected ErrFacilitatorUnreachable, got %v", err)
	}
}

func TestFacilitatorClient_VerifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	client.Timeouts = x402.DefaultTimeouts.WithVerifyTimeout(20 * time.Millisecond)

	start := time.Now()
	_, err := client.Verify(context.Background(), testPayment(), testRequirement())
	if !errors.Is(err, x402.ErrFacilitatorUnreachable) {
		t.Errorf("expected ErrFacilitatorUnreachable, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("verify timeout not applied")
	}
}

func TestFacilitatorClient_Settle(t *testing.T) {
	calls := 0
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/settle" {
			t.Errorf("Expected path /settle, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(x402.SettlementResponse{
			Success:     true,
			Transaction: "0x123",
			Network:     "base-sepolia",
			Payer:       "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		})
	}))
	defer mockServer.Close()

	resp, err := newTestClient(mockServer.URL).Settle(context.Background(), testPayment(), testRequirement())
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if !resp.Success || resp.Transaction != "0x123" {
		t.Errorf("unexpected settlement: %+v", resp)
	}
	if calls != 1 {
		t.Errorf("settle must be sent once, got %d calls", calls)
	}
}

func TestFacilitatorClient_SettleRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"errorReason":"insufficient_funds","network":"base-sepolia"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Settle(context.Background(), testPayment(), testRequirement())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success || resp.ErrorReason != "insufficient_funds" {
		t.Errorf("unexpected settlement: %+v", resp)
	}
}

func TestFacilitatorClient_Supported(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/supported" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(facilitator.SupportedResponse{Kinds: []facilitator.SupportedKind{
			{X402Version: 1, Scheme: "exact", Network: "solana", Extra: map[string]interface{}{"feePayer": "2wKupLR9q6wXYppw8Gr2NvWxKBUqm4PPJKkQfoxHDBg4"}},
		}})
	}))
	defer mockServer.Close()

	resp, err := newTestClient(mockServer.URL + "/").Supported(context.Background())
	if err != nil {
		t.Fatalf("Supported failed: %v", err)
	}
	if len(resp.Kinds) != 1 || resp.Kinds[0].FeePayer() != "2wKupLR9q6wXYppw8Gr2NvWxKBUqm4PPJKkQfoxHDBg4" {
		t.Errorf("unexpected kinds: %+v", resp.Kinds)
	}
}

func TestFacilitatorClient_Authorization(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"kinds":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	client.Authorization = "Bearer static"
	if _, err := client.Supported(context.Background()); err != nil {
		t.Fatal(err)
	}

	client.AuthorizationProvider = func(r *http.Request) (string, error) {
		return "Bearer " + r.Method + r.URL.Path, nil
	}
	if _, err := client.Supported(context.Background()); err != nil {
		t.Fatal(err)
	}

	client.AuthorizationProvider = func(r *http.Request) (string, error) {
		return "", errors.New("key expired")
	}
	if _, err := client.Supported(context.Background()); !errors.Is(err, x402.ErrFacilitatorUnreachable) {
		t.Errorf("provider failure should be unreachable, got %v", err)
	}

	if len(got) != 2 || got[0] != "Bearer static" || got[1] != "Bearer GET/supported" {
		t.Errorf("Authorization headers = %v", got)
	}
}
