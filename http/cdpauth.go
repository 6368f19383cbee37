package http

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// cdpTokenLifetime is how long a facilitator bearer token stays valid.
const cdpTokenLifetime = 2 * time.Minute

// cdpClaims are the JWT claims the Coinbase facilitator expects.
type cdpClaims struct {
	*jwt.Claims
	// URI is "{METHOD} {host}{path}" of the request being authorized.
	URI string `json:"uri"`
}

// CDPAuthorization signs a short-lived JWT per facilitator request using a CDP
// API key. ECDSA keys sign with ES256, Ed25519 keys with EdDSA.
type CDPAuthorization struct {
	keyName string
	key     interface{}
	alg     jose.SignatureAlgorithm
	now     func() time.Time
}

// NewCDPAuthorization parses the API key secret, which may be PEM (SEC1 or PKCS8)
// or base64 of the raw key as issued by the CDP portal.
func NewCDPAuthorization(keyName, keySecret string) (*CDPAuthorization, error) {
	if keyName == "" {
		return nil, errors.New("cdp: key name must not be empty")
	}
	key, err := parseCDPKey(keySecret)
	if err != nil {
		return nil, err
	}

	a := &CDPAuthorization{keyName: keyName, key: key, now: time.Now}
	switch key.(type) {
	case *ecdsa.PrivateKey:
		a.alg = jose.ES256
	case ed25519.PrivateKey:
		a.alg = jose.EdDSA
	default:
		return nil, fmt.Errorf("cdp: unsupported key type %T", key)
	}
	return a, nil
}

func parseCDPKey(secret string) (interface{}, error) {
	secret = strings.TrimSpace(strings.ReplaceAll(secret, `\n`, "\n"))

	var der []byte
	if block, _ := pem.Decode([]byte(secret)); block != nil {
		der = block.Bytes
	} else {
		raw, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("cdp: key secret is neither PEM nor base64: %w", err)
		}
		if len(raw) == ed25519.PrivateKeySize {
			return ed25519.PrivateKey(raw), nil
		}
		der = raw
	}

	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("cdp: failed to parse private key: %w", err)
	}
	if k, ok := key.(*ed25519.PrivateKey); ok {
		return *k, nil
	}
	return key, nil
}

// Token returns a signed bearer token for method and the request URL's host and path.
func (a *CDPAuthorization) Token(method, host, path string) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: a.alg, Key: a.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.keyName),
	)
	if err != nil {
		return "", fmt.Errorf("cdp: failed to create JWT signer: %w", err)
	}

	now := a.now()
	claims := &cdpClaims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(cdpTokenLifetime)),
		},
		URI: fmt.Sprintf("%s %s%s", method, host, path),
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("cdp: failed to serialize JWT: %w", err)
	}
	return token, nil
}

// Provider adapts a to the FacilitatorClient's AuthorizationProvider.
func (a *CDPAuthorization) Provider() AuthorizationProvider {
	return func(r *http.Request) (string, error) {
		token, err := a.Token(r.Method, r.URL.Host, r.URL.Path)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	}
}
