// Package svm inspects partially signed Solana payment transactions and resolves
// token accounts to the wallets that own them.
package svm

import (
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/quillwire/x402-settle"
)

// Transfer is the SPL token transfer found in a payment transaction.
type Transfer struct {
	Program     solana.PublicKey
	Source      solana.PublicKey // payer's token account
	Destination solana.PublicKey // recipient's token account
	Authority   solana.PublicKey // wallet that signed for Source
	Mint        solana.PublicKey // zero for plain Transfer
	Amount      uint64
	Decimals    *uint8 // set for TransferChecked
}

// DecodeTransaction parses the base64 transaction of an SVM payload.
func DecodeTransaction(p *x402.SVMPayload) (*solana.Transaction, error) {
	if p == nil || p.Transaction == "" {
		return nil, fmt.Errorf("%w: missing transaction", x402.ErrInvalidPayload)
	}
	tx, err := solana.TransactionFromBase64(p.Transaction)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode transaction: %v", x402.ErrInvalidPayload, err)
	}
	return tx, nil
}

// FindTransfer returns the first Transfer or TransferChecked instruction of the
// Token or Token-2022 program. Compute budget and other instructions are skipped.
func FindTransfer(tx *solana.Transaction, logger *slog.Logger) (*Transfer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for i, inst := range tx.Message.Instructions {
		prog, err := tx.Message.ResolveProgramIDIndex(inst.ProgramIDIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d: %v", x402.ErrInvalidPayload, i, err)
		}
		if !prog.Equals(solana.TokenProgramID) && !prog.Equals(solana.Token2022ProgramID) {
			continue
		}

		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d accounts: %v", x402.ErrInvalidPayload, i, err)
		}
		ix, err := token.DecodeInstruction(accounts, inst.Data)
		if err != nil {
			logger.Debug("skipping undecodable token instruction", "index", i, "error", err)
			continue
		}

		switch t := ix.Impl.(type) {
		case *token.Transfer:
			if t.Amount == nil {
				return nil, fmt.Errorf("%w: transfer without amount", x402.ErrInvalidPayload)
			}
			return &Transfer{
				Program:     prog,
				Source:      t.GetSourceAccount().PublicKey,
				Destination: t.GetDestinationAccount().PublicKey,
				Authority:   t.GetOwnerAccount().PublicKey,
				Amount:      *t.Amount,
			}, nil
		case *token.TransferChecked:
			if t.Amount == nil {
				return nil, fmt.Errorf("%w: transfer without amount", x402.ErrInvalidPayload)
			}
			return &Transfer{
				Program:     prog,
				Source:      t.GetSourceAccount().PublicKey,
				Destination: t.GetDestinationAccount().PublicKey,
				Authority:   t.GetOwnerAccount().PublicKey,
				Mint:        t.GetMintAccount().PublicKey,
				Amount:      *t.Amount,
				Decimals:    t.Decimals,
			}, nil
		default:
			logger.Debug("skipping token instruction", "index", i, "type", fmt.Sprintf("%T", t))
		}
	}
	return nil, fmt.Errorf("%w: no token transfer instruction", x402.ErrInvalidPayload)
}

// InspectPayload decodes p and returns its token transfer.
func InspectPayload(p *x402.SVMPayload, logger *slog.Logger) (*Transfer, error) {
	tx, err := DecodeTransaction(p)
	if err != nil {
		return nil, err
	}
	return FindTransfer(tx, logger)
}

// CheckMint rejects a TransferChecked whose mint is not asset. Plain transfers
// carry no mint and pass.
func (t *Transfer) CheckMint(asset string) error {
	if t.Mint.IsZero() {
		return nil
	}
	if t.Mint.String() != asset {
		return fmt.Errorf("%w: transfer mint %s, expected %s", x402.ErrInvalidPayload, t.Mint, asset)
	}
	return nil
}
