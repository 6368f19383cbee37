// Package validation checks the shape of inbound payment envelopes and of loaded
// configuration with go-playground/validator struct tags.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/quillwire/x402-settle"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// x402network accepts only the supported network identifiers.
	_ = validate.RegisterValidation("x402network", func(fl validator.FieldLevel) bool {
		_, err := x402.ParseNetwork(fl.Field().String())
		return err == nil
	})
}

// Struct validates v against its `validate` tags with the package validator, so
// custom tags like x402network are available to callers.
func Struct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return describe(err)
	}
	return nil
}

type evmShape struct {
	Signature   string `validate:"required,startswith=0x,hexadecimal"`
	From        string `validate:"required,eth_addr"`
	To          string `validate:"required,eth_addr"`
	Value       string `validate:"required,number"`
	ValidAfter  string `validate:"required,number"`
	ValidBefore string `validate:"required,number"`
	Nonce       string `validate:"required,len=66,startswith=0x,hexadecimal"`
}

type svmShape struct {
	Transaction string `validate:"required,base64"`
}

// ValidatePaymentPayload checks the envelope and the variant's field formats. It
// does not check amounts or signatures.
//
// Errors wrap x402.ErrUnsupportedVersion, x402.ErrUnsupportedScheme,
// x402.ErrUnsupportedNetwork or x402.ErrInvalidPayload.
func ValidatePaymentPayload(payment x402.PaymentPayload) error {
	if payment.X402Version != x402.Version {
		return fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, payment.X402Version)
	}
	if payment.Scheme != x402.SchemeExact {
		return fmt.Errorf("%w: %q", x402.ErrUnsupportedScheme, payment.Scheme)
	}
	network, err := x402.ParseNetwork(payment.Network)
	if err != nil {
		return err
	}

	switch p := payment.Payload.(type) {
	case *x402.EVMPayload:
		if network.Family() != x402.FamilyEVM {
			return fmt.Errorf("%w: evm payload on %s", x402.ErrInvalidPayload, network)
		}
		a := p.Authorization
		err = Struct(evmShape{
			Signature:   p.Signature,
			From:        a.From,
			To:          a.To,
			Value:       a.Value,
			ValidAfter:  a.ValidAfter,
			ValidBefore: a.ValidBefore,
			Nonce:       a.Nonce,
		})
	case *x402.SVMPayload:
		if network.Family() != x402.FamilySolana {
			return fmt.Errorf("%w: solana payload on %s", x402.ErrInvalidPayload, network)
		}
		err = Struct(svmShape{Transaction: p.Transaction})
	case nil:
		return fmt.Errorf("%w: payload cannot be nil", x402.ErrInvalidPayload)
	default:
		return fmt.Errorf("%w: unsupported payload type %T", x402.ErrInvalidPayload, p)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrInvalidPayload, err)
	}
	return nil
}

// describe flattens validator errors into "Field: tag" pairs.
func describe(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, ", "))
}
