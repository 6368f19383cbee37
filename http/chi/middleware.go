// Package chi provides Chi-compatible middleware for x402 payment gating.
// This package is a thin adapter that reads the article from Chi URL params
// and delegates all payment logic to the shared httpx402.Handler.
package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	httpx402 "github.com/quillwire/x402-settle/http"
	"github.com/quillwire/x402-settle/http/internal/helpers"
)

// NewChiX402Middleware creates Chi middleware that runs op before next.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Reads the article from the {articleID} URL param
//   - Returns 402 Payment Required with the requirement when X-PAYMENT is missing
//   - Verifies, settles and records the payment through the engine
//   - Stores the recorded outcome in the request context via httpx402.PaymentContextKey
//
// Example usage:
//
//	h := httpx402.NewHandler(engine, x402.NetworkBase, logger)
//	r := chi.NewRouter()
//	r.With(NewChiX402Middleware(h, httpx402.OpPurchase)).
//	    Post("/articles/{articleID}/purchase", func(w http.ResponseWriter, r *http.Request) {
//	        outcome, _ := httpx402.OutcomeFromContext(r.Context())
//	        w.Write([]byte("Purchased! Tx: " + outcome.TransactionHash()))
//	    })
func NewChiX402Middleware(h *httpx402.Handler, op httpx402.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		gated := h.Middleware(op, articleID)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			gated.ServeHTTP(w, r)
		})
	}
}

// Routes mounts the purchase, tip and donation endpoints with receipt bodies.
func Routes(h *httpx402.Handler) func(r chi.Router) {
	return func(r chi.Router) {
		r.With(NewChiX402Middleware(h, httpx402.OpPurchase)).Post("/articles/{"+httpx402.ArticleIDParam+"}/purchase", receipt)
		r.With(NewChiX402Middleware(h, httpx402.OpTip)).Post("/articles/{"+httpx402.ArticleIDParam+"}/tip", receipt)
		r.With(NewChiX402Middleware(h, httpx402.OpDonation)).Post("/donations", receipt)
	}
}

func receipt(w http.ResponseWriter, r *http.Request) {
	outcome, ok := httpx402.OutcomeFromContext(r.Context())
	if !ok {
		http.Error(w, "no recorded payment", http.StatusInternalServerError)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, httpx402.NewReceipt(articleID(r), outcome))
}

func articleID(r *http.Request) string {
	return chi.URLParam(r, httpx402.ArticleIDParam)
}
