package http

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"strings"
	"testing"
	"time"

	"gopkg.in/square/go-jose.v2/jwt"
)

func TestCDPAuthorization_ES256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	secret := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	auth, err := NewCDPAuthorization("organizations/o/apiKeys/k", secret)
	if err != nil {
		t.Fatalf("NewCDPAuthorization: %v", err)
	}
	fixed := time.Unix(1_700_000_000, 0)
	auth.now = func() time.Time { return fixed }

	req, _ := http.NewRequest(http.MethodPost, "https://api.cdp.coinbase.com/platform/v2/x402/verify", nil)
	header, err := auth.Provider()(req)
	if err != nil {
		t.Fatalf("Provider: %v", err)
	}
	if !strings.HasPrefix(header, "Bearer ") {
		t.Fatalf("header = %q", header)
	}

	parsed, err := jwt.ParseSigned(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		t.Fatalf("ParseSigned: %v", err)
	}
	var claims cdpClaims
	if err := parsed.Claims(&key.PublicKey, &claims); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
	if claims.Subject != "organizations/o/apiKeys/k" || claims.Issuer != "cdp" {
		t.Errorf("unexpected claims: %+v", claims.Claims)
	}
	if claims.URI != "POST api.cdp.coinbase.com/platform/v2/x402/verify" {
		t.Errorf("URI = %q", claims.URI)
	}
	if claims.Expiry.Time().Sub(claims.NotBefore.Time()) != cdpTokenLifetime {
		t.Errorf("unexpected lifetime")
	}
	if kid := parsed.Headers[0].KeyID; kid != "organizations/o/apiKeys/k" {
		t.Errorf("kid = %q", kid)
	}
}

func TestCDPAuthorization_Ed25519Base64(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth, err := NewCDPAuthorization("k", base64.StdEncoding.EncodeToString(priv))
	if err != nil {
		t.Fatalf("NewCDPAuthorization: %v", err)
	}

	token, err := auth.Token(http.MethodGet, "facilitator.example", "/supported")
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		t.Fatal(err)
	}
	var claims cdpClaims
	if err := parsed.Claims(pub, &claims); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
	if claims.URI != "GET facilitator.example/supported" {
		t.Errorf("URI = %q", claims.URI)
	}
}

func TestNewCDPAuthorization_Rejects(t *testing.T) {
	if _, err := NewCDPAuthorization("", "x"); err == nil {
		t.Error("expected error for empty key name")
	}
	if _, err := NewCDPAuthorization("k", "THIS IS NOT A VALID KEY!!!"); err == nil {
		t.Error("expected error for garbage secret")
	}
	if _, err := NewCDPAuthorization("k", base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("expected error for undecodable DER")
	}
}
