package encoding

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/quillwire/x402-settle"
)

func evmPayment() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Payload: &x402.EVMPayload{
			Signature: "0xabc",
			Authorization: x402.EVMAuthorization{
				From:  "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:    "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Value: "50000",
				Nonce: "0x01",
			},
		},
	}
}

func TestPaymentRoundTrip(t *testing.T) {
	encoded, err := EncodePayment(evmPayment())
	if err != nil {
		t.Fatalf("EncodePayment: %v", err)
	}

	decoded, err := DecodePayment(encoded)
	if err != nil {
		t.Fatalf("DecodePayment: %v", err)
	}
	evm, ok := decoded.Payload.(*x402.EVMPayload)
	if !ok {
		t.Fatalf("payload type = %T", decoded.Payload)
	}
	if evm.Authorization.Value != "50000" || decoded.Network != "base" {
		t.Errorf("unexpected decoded payment: %+v", decoded)
	}
}

func TestDecodePayment_URLSafeAlphabet(t *testing.T) {
	raw := []byte(`{"x402Version":1,"scheme":"exact","network":"solana","payload":{"transaction":"AQID"}}`)
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding} {
		decoded, err := DecodePayment(enc.EncodeToString(raw))
		if err != nil {
			t.Fatalf("DecodePayment: %v", err)
		}
		if _, ok := decoded.Payload.(*x402.SVMPayload); !ok {
			t.Errorf("payload type = %T", decoded.Payload)
		}
	}
}

func TestDecodePayment_Errors(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		want    error
	}{
		{"invalid base64", "!!!not-base64!!!", x402.ErrMalformedHeader},
		{"not json", base64.StdEncoding.EncodeToString([]byte("not json")), x402.ErrMalformedHeader},
		{"unknown payload", base64.StdEncoding.EncodeToString([]byte(`{"x402Version":1,"network":"base","payload":{"x":1}}`)), x402.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayment(tt.encoded)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodePayment error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	in := x402.SettlementResponse{Success: true, Transaction: "0x123", Network: "base-sepolia", Payer: "0xBBB"}
	encoded, err := EncodeSettlement(in)
	if err != nil {
		t.Fatalf("EncodeSettlement: %v", err)
	}
	out, err := DecodeSettlement(encoded)
	if err != nil {
		t.Fatalf("DecodeSettlement: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}

	if _, err := DecodeSettlement("%%%"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
