package evm

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/quillwire/x402-settle"
)

const testNonce = "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480"

func wirePayload(mutate func(a *x402.EVMAuthorization)) *x402.EVMPayload {
	a := x402.EVMAuthorization{
		From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
		To:          "0x209693bc6afc0c5328ba36faf03c514ef312287c",
		Value:       "1000000",
		ValidAfter:  "100",
		ValidBefore: "200",
		Nonce:       testNonce,
	}
	if mutate != nil {
		mutate(&a)
	}
	return &x402.EVMPayload{Signature: "0x" + "11", Authorization: a}
}

func TestParseAuthorization(t *testing.T) {
	auth, err := ParseAuthorization(wirePayload(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := auth.To.Hex(); got != "0x209693Bc6afc0C5328bA36FaF03C514EF312287C" {
		t.Errorf("expected checksummed recipient, got %s", got)
	}
	if got := auth.Value.String(); got != "1000000" {
		t.Errorf("expected value 1000000, got %s", got)
	}
	if got := auth.Nonce.Hex(); got != testNonce {
		t.Errorf("expected nonce %s, got %s", testNonce, got)
	}
	if !auth.Covers(big.NewInt(1000000)) {
		t.Error("expected authorization to cover its own value")
	}
	if auth.Covers(big.NewInt(1000001)) {
		t.Error("expected authorization not to cover more than its value")
	}
}

func TestParseAuthorizationRejects(t *testing.T) {
	tests := map[string]func(a *x402.EVMAuthorization){
		"missing 0x":      func(a *x402.EVMAuthorization) { a.From = "857b06519E91e3A54538791bDbb0E22373e36b66" },
		"short to":        func(a *x402.EVMAuthorization) { a.To = "0x1234" },
		"decimal value":   func(a *x402.EVMAuthorization) { a.Value = "1.5" },
		"negative value":  func(a *x402.EVMAuthorization) { a.Value = "-1" },
		"hex validBefore": func(a *x402.EVMAuthorization) { a.ValidBefore = "0xff" },
		"short nonce":     func(a *x402.EVMAuthorization) { a.Nonce = "0x01" },
		"no-prefix nonce": func(a *x402.EVMAuthorization) { a.Nonce = testNonce[2:] },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAuthorization(wirePayload(mutate))
			if !errors.Is(err, x402.ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}

	if _, err := ParseAuthorization(nil); !errors.Is(err, x402.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for nil payload, got %v", err)
	}
}

func TestCheckWindow(t *testing.T) {
	auth, err := ParseAuthorization(wirePayload(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		at      int64
		wantErr bool
	}{
		{150, false},
		{100, false},
		{200, true},
		{99, true},
	}
	for _, tt := range tests {
		err := auth.CheckWindow(time.Unix(tt.at, 0))
		if tt.wantErr && !errors.Is(err, x402.ErrInvalidPayload) {
			t.Errorf("at %d: expected ErrInvalidPayload, got %v", tt.at, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("at %d: unexpected error: %v", tt.at, err)
		}
	}

	inverted, err := ParseAuthorization(wirePayload(func(a *x402.EVMAuthorization) { a.ValidAfter = "300" }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := inverted.CheckWindow(time.Unix(250, 0)); !errors.Is(err, x402.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for inverted window, got %v", err)
	}
}

func signForTest(t *testing.T, key *ecdsa.PrivateKey, d Domain, a *Authorization) string {
	t.Helper()
	digest, err := Digest(d, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig)
}

func TestVerifySigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey)

	chain, err := x402.DefaultAssetTable().Chain(x402.NetworkBaseSepolia)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	domain, err := DomainFor(chain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain.ChainID.Int64() != 84532 {
		t.Errorf("expected chain ID 84532, got %d", domain.ChainID.Int64())
	}

	wire := wirePayload(func(a *x402.EVMAuthorization) { a.From = payer.Hex() })
	unsigned, err := ParseAuthorization(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wire.Signature = signForTest(t, key, domain, unsigned)

	auth, err := ParseAuthorization(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := VerifySigner(domain, auth); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("tampered recipient", func(t *testing.T) {
		tampered := *auth
		tampered.To = common.HexToAddress("0x1111111111111111111111111111111111111111")
		if err := VerifySigner(domain, &tampered); !errors.Is(err, x402.ErrInvalidPayload) {
			t.Errorf("expected ErrInvalidPayload, got %v", err)
		}
	})

	t.Run("wrong domain", func(t *testing.T) {
		other := domain
		other.ChainID = big.NewInt(8453)
		if err := VerifySigner(other, auth); !errors.Is(err, x402.ErrInvalidPayload) {
			t.Errorf("expected ErrInvalidPayload, got %v", err)
		}
	})

	t.Run("truncated signature", func(t *testing.T) {
		short := *auth
		short.Signature = auth.Signature[:10]
		if err := VerifySigner(domain, &short); !errors.Is(err, x402.ErrInvalidPayload) {
			t.Errorf("expected ErrInvalidPayload, got %v", err)
		}
	})
}

func TestChainID(t *testing.T) {
	if _, err := ChainID(x402.NetworkSolana); !errors.Is(err, x402.ErrUnsupportedNetwork) {
		t.Errorf("expected ErrUnsupportedNetwork, got %v", err)
	}
}
