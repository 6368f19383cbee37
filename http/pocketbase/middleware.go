// Package pocketbase provides PocketBase-compatible middleware for x402 payment
// gating. Rejections and challenges are written by the shared httpx402.Handler;
// the hook chain only continues once the payment is recorded.
package pocketbase

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	httpx402 "github.com/quillwire/x402-settle/http"
	"github.com/quillwire/x402-settle/settlement"
)

// PaymentKey is the event store key holding the recorded *settlement.Outcome.
const PaymentKey = "x402_payment"

// NewPocketBaseX402Middleware creates a PocketBase middleware running op.
//
// Example usage:
//
//	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
//	    Register(se.Router, httpx402.NewHandler(engine, x402.NetworkBase, logger))
//	    return se.Next()
//	})
func NewPocketBaseX402Middleware(h *httpx402.Handler, op httpx402.Operation) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		outcome, ok := h.Process(op, e.Request.PathValue(httpx402.ArticleIDParam), e.Response, e.Request)
		if !ok {
			return nil
		}

		e.Set(PaymentKey, outcome)
		e.Request = e.Request.WithContext(httpx402.WithOutcome(e.Request.Context(), outcome))
		return e.Next()
	}
}

// OutcomeFrom returns the outcome stored by the middleware.
func OutcomeFrom(e *core.RequestEvent) (*settlement.Outcome, bool) {
	outcome, ok := e.Get(PaymentKey).(*settlement.Outcome)
	return outcome, ok
}

// Receipt writes the receipt for the recorded payment.
func Receipt(e *core.RequestEvent) error {
	outcome, ok := OutcomeFrom(e)
	if !ok {
		return e.JSON(http.StatusInternalServerError, map[string]any{"error": "no recorded payment"})
	}
	return e.JSON(http.StatusOK, httpx402.NewReceipt(e.Request.PathValue(httpx402.ArticleIDParam), outcome))
}

// Register mounts the purchase, tip and donation endpoints on r.
func Register(r *router.Router[*core.RequestEvent], h *httpx402.Handler) {
	r.POST("/articles/{"+httpx402.ArticleIDParam+"}/purchase", Receipt).BindFunc(NewPocketBaseX402Middleware(h, httpx402.OpPurchase))
	r.POST("/articles/{"+httpx402.ArticleIDParam+"}/tip", Receipt).BindFunc(NewPocketBaseX402Middleware(h, httpx402.OpTip))
	r.POST("/donations", Receipt).BindFunc(NewPocketBaseX402Middleware(h, httpx402.OpDonation))
}
