// Package settlement drives one purchase, tip or donation from the 402 challenge
// to a recorded payment.
//
// Each request walks an explicit state machine:
//
//	AwaitingPayment -> PayloadReceived -> Verified -> RecipientChecked
//	    -> DuplicateChecked -> Settled -> Recorded
//
// and any step may exit to Rejected with a stable reason. The work done by
// transition(s) is what it takes to leave s, so every failure exit is visible in
// one switch.
//
// The ledger reserves the (resource, payer) pair as pending before settle is
// dispatched and completes it afterwards. A crash between the two leaves a
// pending record behind instead of an unrecorded payment; ledger.Store.ListPending
// surfaces those for reconciliation.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	x402 "github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/address"
	"github.com/quillwire/x402-settle/encoding"
	"github.com/quillwire/x402-settle/evm"
	"github.com/quillwire/x402-settle/facilitator"
	"github.com/quillwire/x402-settle/ledger"
	"github.com/quillwire/x402-settle/metrics"
	"github.com/quillwire/x402-settle/requirement"
	"github.com/quillwire/x402-settle/svm"
	"github.com/quillwire/x402-settle/validation"
)

// Config wires an Engine.
type Config struct {
	// Facilitator verifies and settles payments. Required.
	Facilitator facilitator.Interface

	// Fallback is tried for verify when Facilitator is unreachable. The
	// facilitator that verified a payment is the one asked to settle it.
	Fallback facilitator.Interface

	Builder   *requirement.Builder
	Ledger    ledger.Store
	Resources ResourceStore
	Profiles  ProfileStore

	// Platform receives tips and donations.
	Platform FixedRecipient

	// Owners resolves Solana token accounts to wallets. Optional.
	Owners OwnerLookup

	// VerifySignatures recovers the EIP-712 signer locally before calling the
	// facilitator, so a payload whose `to` was altered after signing is
	// rejected without a network call.
	VerifySignatures bool

	Timeouts x402.TimeoutConfig
	Metrics  metrics.Recorder
	Logger   *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs settlement requests. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Facilitator == nil {
		return nil, errors.New("settlement: facilitator is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("settlement: ledger is required")
	}
	if cfg.Resources == nil {
		return nil, errors.New("settlement: resource store is required")
	}
	if cfg.Builder == nil {
		cfg.Builder = &requirement.Builder{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Timeouts = cfg.Timeouts.WithDefaults()
	if err := cfg.Timeouts.Validate(); err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Request is one inbound purchase, tip or donation.
type Request struct {
	// ResourceID is the article ID. Donations leave it empty.
	ResourceID string
	Network    x402.Network

	// Amount is the major-unit price for tips and donations. Purchases use the
	// resource's own price.
	Amount decimal.Decimal

	// Evidence is the raw X-PAYMENT header value.
	Evidence string

	// Payment is already decoded evidence and takes precedence over Evidence.
	Payment *x402.PaymentPayload

	// URL is placed in the requirement when the resource has none of its own.
	URL string
}

func (r Request) hasEvidence() bool {
	return r.Payment != nil || r.Evidence != ""
}

// Flow parameterizes the state machine by what is being paid for and who is paid.
type Flow struct {
	Kind      ledger.Kind
	Recipient RecipientStrategy
}

// Purchase pays the article's author for permanent access.
func (e *Engine) Purchase(ctx context.Context, req Request) (*Outcome, error) {
	if e.cfg.Profiles == nil {
		return e.reject(&Outcome{}, req, ledger.KindPurchase, errors.New("settlement: no profile store configured"))
	}
	return e.Run(ctx, Flow{Kind: ledger.KindPurchase, Recipient: AuthorPayout{Profiles: e.cfg.Profiles}}, req)
}

// Tip pays the platform an arbitrary amount against an article. A payer may tip
// the same article more than once.
func (e *Engine) Tip(ctx context.Context, req Request) (*Outcome, error) {
	return e.Run(ctx, Flow{Kind: ledger.KindTip, Recipient: e.cfg.Platform}, req)
}

// Donate pays the platform an arbitrary amount.
func (e *Engine) Donate(ctx context.Context, req Request) (*Outcome, error) {
	req.ResourceID = ""
	return e.Run(ctx, Flow{Kind: ledger.KindDonation, Recipient: e.cfg.Platform}, req)
}

// run carries what the state machine learns about one request.
type run struct {
	flow     Flow
	req      Request
	resource Resource
	price    decimal.Decimal
	chain    x402.ChainConfig
	required *big.Int

	// authorized is what the evidence actually moves, in minor units. It is
	// at least required.
	authorized *big.Int

	outcome Outcome

	payment  x402.PaymentPayload
	auth     *evm.Authorization
	transfer *svm.Transfer
	verifier facilitator.Interface
	verified *facilitator.VerifyResponse
	payer    string
	record   ledger.Record
}

// Run executes flow for req. The returned Outcome is never nil. A challenge is
// not an error: it comes back with State == StateAwaitingPayment.
func (e *Engine) Run(ctx context.Context, flow Flow, req Request) (*Outcome, error) {
	r := &run{flow: flow, req: req}

	if err := e.prepare(ctx, r); err != nil {
		return e.reject(&r.outcome, req, flow.Kind, err)
	}

	state := StateAwaitingPayment
	for {
		next, err := e.transition(ctx, state, r)
		if err != nil {
			e.logger.Warn("payment rejected",
				"kind", flow.Kind, "resource", req.ResourceID, "network", req.Network,
				"state", state, "error", err)
			return e.reject(&r.outcome, req, flow.Kind, err)
		}
		// AwaitingPayment without evidence and Recorded are fixed points.
		if next == state {
			break
		}
		state = next
	}

	r.outcome.State = state
	outcome := "recorded"
	if state == StateAwaitingPayment {
		outcome = "challenged"
	}
	e.cfg.Metrics.IncOutcome(string(req.Network), string(flow.Kind), outcome)
	return &r.outcome, nil
}

// prepare loads the resource and builds the requirement the evidence must meet.
func (e *Engine) prepare(ctx context.Context, r *run) error {
	if r.flow.Recipient == nil {
		return errors.New("settlement: no recipient strategy configured")
	}
	network, err := x402.ParseNetwork(string(r.req.Network))
	if err != nil {
		return err
	}
	r.req.Network = network

	r.price = r.req.Amount
	if r.req.ResourceID != "" {
		res, err := e.cfg.Resources.GetByID(ctx, r.req.ResourceID)
		if err != nil {
			return err
		}
		r.resource = res
		if r.flow.Kind == ledger.KindPurchase {
			r.price = res.Price
		}
	} else if r.flow.Kind != ledger.KindDonation {
		return fmt.Errorf("%w: resource id is required", x402.ErrResourceNotFound)
	}

	if r.resource.URL == "" {
		r.resource.URL = r.req.URL
	}
	reqmt, err := r.flow.Recipient.Requirement(ctx, e.cfg.Builder, r.resource, network, r.price)
	if err != nil {
		return err
	}
	r.outcome.Requirement = reqmt

	if r.chain, err = e.cfg.Builder.Chain(network); err != nil {
		return err
	}
	r.required, err = reqmt.RequiredAmount()
	return err
}

// transition performs the work needed to leave s and returns the next state.
func (e *Engine) transition(ctx context.Context, s State, r *run) (State, error) {
	switch s {
	case StateAwaitingPayment:
		if !r.req.hasEvidence() {
			e.logger.Info("no payment evidence provided", "resource", r.req.ResourceID, "network", r.req.Network)
			return StateAwaitingPayment, nil
		}
		if err := e.receive(r); err != nil {
			return StateRejected, err
		}
		return StatePayloadReceived, nil

	case StatePayloadReceived:
		if err := e.probeReplay(ctx, r); err != nil {
			return StateRejected, err
		}
		if err := e.verify(ctx, r); err != nil {
			return StateRejected, err
		}
		return StateVerified, nil

	case StateVerified:
		if err := e.checkRecipient(r); err != nil {
			return StateRejected, err
		}
		if err := e.resolvePayer(ctx, r); err != nil {
			return StateRejected, err
		}
		return StateRecipientChecked, nil

	case StateRecipientChecked:
		if err := e.reserve(ctx, r); err != nil {
			return StateRejected, err
		}
		return StateDuplicateChecked, nil

	case StateDuplicateChecked:
		if err := e.settle(ctx, r); err != nil {
			return StateRejected, err
		}
		return StateSettled, nil

	case StateSettled:
		e.record(ctx, r)
		return StateRecorded, nil

	case StateRecorded:
		return StateRecorded, nil

	default:
		return StateRejected, fmt.Errorf("settlement: no transition from %s", s)
	}
}

// receive decodes the evidence and applies every local check, including the
// amount guard, so bad evidence never reaches the facilitator.
func (e *Engine) receive(r *run) error {
	if r.req.Payment != nil {
		r.payment = *r.req.Payment
	} else {
		p, err := encoding.DecodePayment(r.req.Evidence)
		if err != nil {
			return err
		}
		r.payment = p
	}

	if err := validation.ValidatePaymentPayload(r.payment); err != nil {
		return err
	}
	if n, _ := x402.ParseNetwork(r.payment.Network); n != r.req.Network {
		return fmt.Errorf("%w: payment is for %s, requirement is for %s", x402.ErrInvalidPayload, r.payment.Network, r.req.Network)
	}

	switch p := r.payment.Payload.(type) {
	case *x402.EVMPayload:
		auth, err := evm.ParseAuthorization(p)
		if err != nil {
			return err
		}
		if !auth.Covers(r.required) {
			return fmt.Errorf("%w: authorized %s, required %s", x402.ErrInsufficientAmount, auth.Value, r.required)
		}
		if err := auth.CheckWindow(e.cfg.Now()); err != nil {
			return err
		}
		if e.cfg.VerifySignatures {
			domain, err := evm.DomainFor(r.chain)
			if err != nil {
				return err
			}
			if err := evm.VerifySigner(domain, auth); err != nil {
				return err
			}
		}
		r.auth = auth
		r.authorized = auth.Value

	case *x402.SVMPayload:
		transfer, err := svm.InspectPayload(p, e.logger)
		if err != nil {
			return err
		}
		if err := transfer.CheckMint(r.outcome.Requirement.Asset); err != nil {
			return err
		}
		if new(big.Int).SetUint64(transfer.Amount).Cmp(r.required) < 0 {
			return fmt.Errorf("%w: transfer of %d, required %s", x402.ErrInsufficientAmount, transfer.Amount, r.required)
		}
		r.transfer = transfer
		r.authorized = new(big.Int).SetUint64(transfer.Amount)

	default:
		return fmt.Errorf("%w: unsupported payload type %T", x402.ErrInvalidPayload, p)
	}
	return nil
}

func (e *Engine) verify(ctx context.Context, r *run) error {
	e.logger.Info("verifying payment", "scheme", r.payment.Scheme, "network", r.payment.Network)

	verifier := e.cfg.Facilitator
	resp, err := e.callVerify(ctx, verifier, r)
	if err != nil && errors.Is(err, x402.ErrFacilitatorUnreachable) && e.cfg.Fallback != nil {
		e.logger.Warn("primary facilitator failed, trying fallback", "error", err)
		verifier = e.cfg.Fallback
		resp, err = e.callVerify(ctx, verifier, r)
	}
	if err != nil {
		e.logger.Error("facilitator verification failed", "error", err)
		return err
	}
	if !resp.IsValid {
		e.logger.Warn("payment verification failed", "reason", resp.InvalidReason)
		return x402.Reject(x402.ErrVerificationFailed, orDefault(resp.InvalidReason, "payment rejected by facilitator")).
			WithDetails("payer", resp.Payer)
	}

	e.logger.Info("payment verified", "payer", resp.Payer)
	r.verifier = verifier
	r.verified = resp
	return nil
}

func (e *Engine) callVerify(ctx context.Context, f facilitator.Interface, r *run) (*facilitator.VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.VerifyTimeout)
	defer cancel()

	start := time.Now()
	resp, err := f.Verify(ctx, r.payment, r.outcome.Requirement)
	e.cfg.Metrics.ObserveLatency("verify", string(r.req.Network), time.Since(start))
	if err == nil && resp == nil {
		err = fmt.Errorf("%w: empty verify response", x402.ErrFacilitatorUnreachable)
	}
	return resp, err
}

// checkRecipient compares the authorization's `to` with payTo on EVM. A Solana
// transaction embeds its destination token account, which the facilitator
// checks against payTo during verify, so payTo is trusted there.
func (e *Engine) checkRecipient(r *run) error {
	payTo := r.outcome.Requirement.PayTo
	if r.auth == nil {
		return nil
	}
	if !address.Equal(r.auth.To.Hex(), payTo, x402.FamilyEVM) {
		return x402.Reject(x402.ErrRecipientMismatch,
			fmt.Sprintf("authorization pays %s, expected %s", r.auth.To.Hex(), payTo))
	}
	return nil
}

// resolvePayer picks the ledger identity: the facilitator's payer, else the
// declared sender, resolved to the owning wallet on Solana.
func (e *Engine) resolvePayer(ctx context.Context, r *run) error {
	family := r.req.Network.Family()
	payer := declaredSender(r)
	if reported, ok := address.TryNormalize(r.verified.Payer, family); ok {
		payer = reported
	}
	if payer == "" {
		return fmt.Errorf("%w: cannot determine payer", x402.ErrInvalidPayload)
	}

	if family == x402.FamilySolana && e.cfg.Owners != nil {
		owner, err := e.cfg.Owners.ResolveOwner(ctx, payer)
		if err != nil {
			return err
		}
		if owner != payer {
			e.logger.Debug("resolved token account owner", "account", payer, "owner", owner)
		}
		payer = owner
	}

	r.payer = payer
	r.outcome.Payer = payer
	return nil
}

// probeReplay turns resubmitted evidence away before verify, so a replay costs
// no facilitator call. It only answers when the stored evidence digest matches:
// an unsigned payload that merely names a wallet learns nothing and goes on to
// verify. The authoritative check is still reserve, keyed by the resolved payer.
func (e *Engine) probeReplay(ctx context.Context, r *run) error {
	declared := declaredSender(r)
	if declared == "" {
		return nil
	}
	rec, err := e.cfg.Ledger.Find(ctx, ledgerKey(r), declared)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if rec.Evidence == "" || rec.Evidence != evidenceDigest(r.payment) {
		return nil
	}
	return e.conflict(rec)
}

// reserve is the duplicate check. Find short-circuits a held pair without
// writing; Reserve closes the race between two concurrent first attempts.
func (e *Engine) reserve(ctx context.Context, r *run) error {
	key := ledgerKey(r)
	held, err := e.cfg.Ledger.Find(ctx, key, r.payer)
	switch {
	case err == nil:
		return e.conflict(held)
	case !errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("ledger lookup: %w", err)
	}

	rec := ledger.NewRecord(key, r.payer, r.authorized.String(), r.req.Network, r.flow.Kind, e.cfg.Now())
	rec.Evidence = evidenceDigest(r.payment)
	if err := e.cfg.Ledger.Reserve(ctx, rec); err != nil {
		if errors.Is(err, x402.ErrAlreadySettled) {
			if held, ferr := e.cfg.Ledger.Find(ctx, key, r.payer); ferr == nil {
				return e.conflict(held)
			}
		}
		return err
	}
	r.record = rec
	return nil
}

// conflict explains why a held pair blocks the request. A settled record, or
// one still inside its settle window, means the payer already paid or is
// paying. A record whose settle outcome is unknown, or that outlived the
// window, blocks until an operator resolves it.
func (e *Engine) conflict(held ledger.Record) error {
	window := e.cfg.Timeouts.VerifyTimeout + e.cfg.Timeouts.SettleTimeout
	stuck := held.Status == ledger.StatusUnknown ||
		(held.Status == ledger.StatusPending && e.cfg.Now().Sub(held.CreatedAt) > window)
	if stuck {
		return x402.Reject(x402.ErrSettlementPending, "an earlier settlement for this payment is unresolved").
			WithDetails("record", held.ID.String())
	}
	return x402.Reject(x402.ErrAlreadySettled, "payment already recorded").
		WithDetails("resource", held.ResourceID).WithDetails("payer", held.Payer)
}

// settle is dispatched once and cannot be cancelled by the caller: it runs on a
// context detached from the request and bounded only by the settle timeout.
func (e *Engine) settle(ctx context.Context, r *run) error {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Timeouts.SettleTimeout)
	defer cancel()

	e.logger.Info("settling payment", "payer", r.payer)
	start := time.Now()
	resp, err := r.verifier.Settle(settleCtx, r.payment, r.outcome.Requirement)
	e.cfg.Metrics.ObserveLatency("settle", string(r.req.Network), time.Since(start))

	if err != nil || resp == nil {
		// The outcome is unknown: the reservation stays, flagged for reconciliation.
		if err == nil {
			err = fmt.Errorf("%w: empty settle response", x402.ErrFacilitatorUnreachable)
		}
		e.logger.Error("settlement outcome unknown", "error", err, "record", r.record.ID)
		if markErr := e.cfg.Ledger.MarkUnknown(context.WithoutCancel(ctx), r.record.ID); markErr != nil {
			e.logger.Error("failed to flag reservation", "record", r.record.ID, "error", markErr)
		}
		return x402.NewPaymentError(x402.ErrCodeSettlementPending, "settlement outcome unknown",
			fmt.Errorf("%w: %w", x402.ErrSettlementPending, err)).
			WithDetails("record", r.record.ID.String())
	}

	if !resp.Success {
		e.logger.Warn("settlement unsuccessful", "reason", resp.ErrorReason)
		if relErr := e.cfg.Ledger.Release(context.WithoutCancel(ctx), r.record.ID); relErr != nil {
			e.logger.Error("failed to release reservation", "record", r.record.ID, "error", relErr)
		}
		return x402.Reject(x402.ErrSettlementFailed, orDefault(resp.ErrorReason, "facilitator could not settle payment"))
	}

	if resp.Payer == "" {
		resp.Payer = r.payer
	}
	if resp.Network == "" {
		resp.Network = string(r.req.Network)
	}
	e.logger.Info("payment settled", "transaction", resp.Transaction)
	r.outcome.Settlement = resp
	return nil
}

// record completes the reservation and bumps display counters. The payment has
// already happened, so failures here are logged and the request still succeeds.
func (e *Engine) record(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	settledAt := e.cfg.Now()

	if err := e.cfg.Ledger.Complete(ctx, r.record.ID, r.outcome.Settlement.Transaction, settledAt); err != nil {
		e.logger.Error("failed to complete ledger record", "record", r.record.ID, "error", err)
	} else {
		at := settledAt.UTC()
		r.record.Status = ledger.StatusSettled
		r.record.TxHash = r.outcome.Settlement.Transaction
		r.record.SettledAt = &at
	}
	rec := r.record
	r.outcome.Record = &rec

	if r.req.ResourceID == "" {
		return
	}
	earnings := decimal.NewFromBigInt(r.authorized, -r.chain.Decimals)
	delta := StatsDelta{Kind: r.flow.Kind, Count: 1, Earnings: earnings}
	if err := e.cfg.Resources.RecordPurchaseStats(ctx, r.req.ResourceID, delta); err != nil {
		e.logger.Warn("failed to update resource stats", "resource", r.req.ResourceID, "error", err)
	}
}

func declaredSender(r *run) string {
	switch {
	case r.auth != nil:
		return r.auth.From.Hex()
	case r.transfer != nil:
		return r.transfer.Authority.String()
	default:
		return ""
	}
}

func (e *Engine) reject(o *Outcome, req Request, kind ledger.Kind, err error) (*Outcome, error) {
	o.State = StateRejected
	o.Reason = x402.ReasonOf(err)
	e.cfg.Metrics.IncOutcome(string(req.Network), string(kind), string(o.Reason))
	return o, err
}
