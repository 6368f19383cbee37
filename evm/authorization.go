// Package evm parses and checks EIP-3009 transferWithAuthorization payloads.
package evm

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/quillwire/x402-settle"
)

// Authorization is an x402.EVMAuthorization with typed fields.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
	Signature   []byte
}

// ParseAuthorization converts the wire form into typed values. Every failure
// wraps x402.ErrInvalidPayload.
func ParseAuthorization(p *x402.EVMPayload) (*Authorization, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: missing evm payload", x402.ErrInvalidPayload)
	}
	a := p.Authorization

	from, err := parseAddress("from", a.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress("to", a.To)
	if err != nil {
		return nil, err
	}
	value, err := parseUint("value", a.Value)
	if err != nil {
		return nil, err
	}
	validAfter, err := parseUint("validAfter", a.ValidAfter)
	if err != nil {
		return nil, err
	}
	validBefore, err := parseUint("validBefore", a.ValidBefore)
	if err != nil {
		return nil, err
	}

	nonce, err := hexutil.Decode(a.Nonce)
	if err != nil || len(nonce) != common.HashLength {
		return nil, fmt.Errorf("%w: nonce must be 32 bytes of 0x-prefixed hex", x402.ErrInvalidPayload)
	}

	var sig []byte
	if p.Signature != "" {
		sig, err = hexutil.Decode(p.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: signature: %v", x402.ErrInvalidPayload, err)
		}
	}

	return &Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       common.BytesToHash(nonce),
		Signature:   sig,
	}, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if (!strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X")) || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", x402.ErrInvalidPayload, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseUint(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q is not a non-negative integer", x402.ErrInvalidPayload, field, s)
	}
	return v, nil
}

// CheckWindow rejects an authorization that is not yet valid or already expired
// at now. Both bounds are exclusive on the chain side, so validBefore == now is expired.
func (a *Authorization) CheckWindow(now time.Time) error {
	ts := big.NewInt(now.Unix())
	if a.ValidBefore.Cmp(a.ValidAfter) <= 0 {
		return fmt.Errorf("%w: validBefore %s is not after validAfter %s", x402.ErrInvalidPayload, a.ValidBefore, a.ValidAfter)
	}
	if a.ValidBefore.Cmp(ts) <= 0 {
		return fmt.Errorf("%w: authorization expired at %s", x402.ErrInvalidPayload, a.ValidBefore)
	}
	if a.ValidAfter.Cmp(ts) > 0 {
		return fmt.Errorf("%w: authorization not valid until %s", x402.ErrInvalidPayload, a.ValidAfter)
	}
	return nil
}

// Covers reports whether the authorized value is at least required.
func (a *Authorization) Covers(required *big.Int) bool {
	return a.Value.Cmp(required) >= 0
}
