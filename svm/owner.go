package svm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/retry"
)

// AccountFetcher is the RPC call the resolver needs. *rpc.Client satisfies it.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// OwnerResolver maps a token account to its owning wallet.
type OwnerResolver struct {
	RPC     AccountFetcher
	Retry   retry.Config
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewOwnerResolver creates a resolver against a JSON-RPC endpoint.
func NewOwnerResolver(endpoint string, logger *slog.Logger) *OwnerResolver {
	return &OwnerResolver{
		RPC:     rpc.New(endpoint),
		Retry:   retry.DefaultConfig,
		Timeout: 10 * time.Second,
		Logger:  logger,
	}
}

// ResolveOwner returns the wallet that owns addr when addr is an SPL token
// account, and addr itself when it is anything else, including an account that
// does not exist yet. RPC failures wrap x402.ErrFacilitatorUnreachable.
func (r *OwnerResolver) ResolveOwner(ctx context.Context, addr string) (string, error) {
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", x402.ErrInvalidAddress, addr, err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cfg := r.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig
	}
	info, err := retry.WithRetry(ctx, cfg, retry.Transient, func(ctx context.Context) (*rpc.GetAccountInfoResult, error) {
		info, err := r.RPC.GetAccountInfo(ctx, pk)
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: solana rpc: %v", x402.ErrFacilitatorUnreachable, err)
		}
		return info, nil
	})
	if err != nil {
		return "", err
	}
	if info == nil || info.Value == nil {
		return pk.String(), nil
	}

	owner := info.Value.Owner
	if !owner.Equals(solana.TokenProgramID) && !owner.Equals(solana.Token2022ProgramID) {
		return pk.String(), nil
	}

	var account token.Account
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&account); err != nil {
		// Mints are also owned by the token program; they are never payers.
		return "", fmt.Errorf("%w: %s is a token program account but not a token account: %v", x402.ErrInvalidPayload, pk, err)
	}

	r.logger().Debug("resolved token account owner", "tokenAccount", pk.String(), "owner", account.Owner.String())
	return account.Owner.String(), nil
}

func (r *OwnerResolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
