// Package http exposes the settlement engine over HTTP: purchases, tips and
// donations answer with a 402 challenge until valid X-PAYMENT evidence is
// presented, then settle, record and hand over to the wrapped handler.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/http/internal/helpers"
	"github.com/quillwire/x402-settle/settlement"
)

// Settler runs the payment flows. *settlement.Engine implements it.
type Settler interface {
	Purchase(ctx context.Context, req settlement.Request) (*settlement.Outcome, error)
	Tip(ctx context.Context, req settlement.Request) (*settlement.Outcome, error)
	Donate(ctx context.Context, req settlement.Request) (*settlement.Outcome, error)
}

// Operation selects which flow a route runs.
type Operation int

const (
	OpPurchase Operation = iota
	OpTip
	OpDonation
)

func (op Operation) String() string {
	switch op {
	case OpPurchase:
		return "purchase"
	case OpTip:
		return "tip"
	case OpDonation:
		return "donation"
	default:
		return fmt.Sprintf("operation(%d)", int(op))
	}
}

// Run dispatches req to the flow op names.
func (op Operation) Run(ctx context.Context, s Settler, req settlement.Request) (*settlement.Outcome, error) {
	switch op {
	case OpPurchase:
		return s.Purchase(ctx, req)
	case OpTip:
		return s.Tip(ctx, req)
	case OpDonation:
		return s.Donate(ctx, req)
	default:
		return nil, fmt.Errorf("unknown operation %s", op)
	}
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for the recorded *settlement.Outcome.
const PaymentContextKey = contextKey("x402_payment")

// Query parameters read from every payment route.
const (
	NetworkParam = "network"
	AmountParam  = "amount"
)

// Handler adapts a Settler to net/http. The Chi, Gin and PocketBase packages
// wrap the same Handler.
type Handler struct {
	Engine Settler

	// DefaultNetwork is used when the request has no network query parameter.
	DefaultNetwork x402.Network

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewHandler creates a Handler for engine.
func NewHandler(engine Settler, defaultNetwork x402.Network, logger *slog.Logger) *Handler {
	return &Handler{Engine: engine, DefaultNetwork: defaultNetwork, Logger: logger}
}

// Request builds the settlement request for op from r.
func (h *Handler) Request(op Operation, articleID string, r *http.Request) (settlement.Request, error) {
	query := r.URL.Query()
	network := x402.Network(query.Get(NetworkParam))
	if network == "" {
		network = h.DefaultNetwork
	}

	req := settlement.Request{
		ResourceID: articleID,
		Network:    network,
		Evidence:   r.Header.Get(helpers.PaymentHeader),
		URL:        helpers.ResourceURL(r),
	}
	if op == OpPurchase {
		return req, nil
	}

	raw := query.Get(AmountParam)
	if raw == "" {
		return req, x402.Reject(x402.ErrInvalidAmount, "amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return req, x402.NewPaymentError(x402.ErrCodeInvalidAmount, fmt.Sprintf("amount %q is not a number", raw), x402.ErrInvalidAmount)
	}
	req.Amount = amount
	return req, nil
}

// Process runs op for the request and writes the challenge or rejection
// itself. It returns the outcome and true only once the payment is recorded;
// the X-PAYMENT-RESPONSE header is already set and the caller writes the body.
func (h *Handler) Process(op Operation, articleID string, w http.ResponseWriter, r *http.Request) (*settlement.Outcome, bool) {
	logger := h.logger()

	req, err := h.Request(op, articleID, r)
	if err != nil {
		logger.Warn("invalid payment request", "operation", op, "error", err)
		helpers.SendError(w, err)
		return nil, false
	}

	outcome, err := op.Run(r.Context(), h.Engine, req)
	if err != nil {
		if x402.StatusOf(err) >= http.StatusInternalServerError {
			logger.Error("payment failed", "operation", op, "article", articleID, "error", err)
		}
		helpers.SendError(w, err)
		return nil, false
	}

	if outcome.Challenged() {
		helpers.SendPaymentRequired(w, []x402.PaymentRequirement{outcome.Requirement})
		return nil, false
	}

	if outcome.Settlement != nil {
		if err := helpers.AddPaymentResponseHeader(w, outcome.Settlement); err != nil {
			// The payment is recorded; the receipt still goes out without the header.
			logger.Warn("failed to add payment response header", "error", err)
		}
	}
	return outcome, true
}

// Middleware gates next behind op. articleID extracts the article from the
// request; it may be nil for donations. The recorded outcome is available to
// next through OutcomeFromContext.
func (h *Handler) Middleware(op Operation, articleID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if articleID != nil {
				id = articleID(r)
			}
			outcome, ok := h.Process(op, id, w, r)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOutcome(r.Context(), outcome)))
		})
	}
}

// WithOutcome returns a copy of ctx carrying a recorded outcome.
func WithOutcome(ctx context.Context, outcome *settlement.Outcome) context.Context {
	return context.WithValue(ctx, PaymentContextKey, outcome)
}

// OutcomeFromContext returns the outcome stored by Middleware.
func OutcomeFromContext(ctx context.Context) (*settlement.Outcome, bool) {
	outcome, ok := ctx.Value(PaymentContextKey).(*settlement.Outcome)
	return outcome, ok
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
