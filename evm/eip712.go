package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/quillwire/x402-settle"
)

var chainIDs = map[x402.Network]int64{
	x402.NetworkBase:        8453,
	x402.NetworkBaseSepolia: 84532,
}

// ChainID returns the EIP-155 chain id of an EVM network.
func ChainID(n x402.Network) (*big.Int, error) {
	id, ok := chainIDs[n]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an EVM network", x402.ErrUnsupportedNetwork, n)
	}
	return big.NewInt(id), nil
}

// Domain is the EIP-712 domain of a token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DomainFor builds the token domain for a chain from the asset table.
func DomainFor(chain x402.ChainConfig) (Domain, error) {
	id, err := ChainID(chain.Network)
	if err != nil {
		return Domain{}, err
	}
	return Domain{
		Name:              chain.EIP712Name,
		Version:           chain.EIP712Version,
		ChainID:           id,
		VerifyingContract: common.HexToAddress(chain.Asset),
	}, nil
}

// Digest returns the EIP-712 hash the payer signed for a.
func Digest(d Domain, a *Authorization) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        a.From.Hex(),
			"to":          a.To.Hex(),
			"value":       (*math.HexOrDecimal256)(a.Value),
			"validAfter":  (*math.HexOrDecimal256)(a.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(a.ValidBefore),
			"nonce":       a.Nonce.Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct("TransferWithAuthorization", typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// RecoverSigner returns the address that produced a.Signature over the typed data.
func RecoverSigner(d Domain, a *Authorization) (common.Address, error) {
	if len(a.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes", x402.ErrInvalidPayload, crypto.SignatureLength)
	}
	digest, err := Digest(d, a)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, len(a.Signature))
	copy(sig, a.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", x402.ErrInvalidPayload, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySigner checks that a was signed by a.From. Because the signature also
// covers a.To, a passing check means the declared recipient is the signed one.
func VerifySigner(d Domain, a *Authorization) error {
	signer, err := RecoverSigner(d, a)
	if err != nil {
		return err
	}
	if signer != a.From {
		return fmt.Errorf("%w: signed by %s, declared from %s", x402.ErrInvalidPayload, signer.Hex(), a.From.Hex())
	}
	return nil
}
