// Package gin provides Gin-compatible middleware for x402 payment gating.
// This package is a thin adapter that translates gin.Context to stdlib http patterns
// and delegates all payment logic to the shared httpx402.Handler.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	httpx402 "github.com/quillwire/x402-settle/http"
	"github.com/quillwire/x402-settle/settlement"
)

// PaymentKey is the gin.Context key holding the recorded *settlement.Outcome.
const PaymentKey = "x402_payment"

// NewGinX402Middleware creates Gin middleware that runs op before the handler chain.
//
// The middleware:
//   - Reads the article from the :articleID path param
//   - Returns 402 Payment Required with the requirement when X-PAYMENT is missing
//   - Verifies, settles and records the payment through the engine
//   - Stores the outcome in Gin context via c.Set("x402_payment", outcome)
//   - Calls c.Abort() on rejection to stop the handler chain
//   - Calls c.Next() once the payment is recorded
//
// Example usage:
//
//	h := httpx402.NewHandler(engine, x402.NetworkBase, logger)
//	r := gin.Default()
//	r.POST("/articles/:articleID/purchase", NewGinX402Middleware(h, httpx402.OpPurchase), func(c *gin.Context) {
//	    outcome, _ := OutcomeFrom(c)
//	    c.JSON(200, gin.H{"transaction": outcome.TransactionHash()})
//	})
func NewGinX402Middleware(h *httpx402.Handler, op httpx402.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome, ok := h.Process(op, c.Param(httpx402.ArticleIDParam), c.Writer, c.Request)
		if !ok {
			c.Abort()
			return
		}

		c.Set(PaymentKey, outcome)
		c.Request = c.Request.WithContext(httpx402.WithOutcome(c.Request.Context(), outcome))
		c.Next()
	}
}

// OutcomeFrom returns the outcome stored by the middleware.
func OutcomeFrom(c *gin.Context) (*settlement.Outcome, bool) {
	v, ok := c.Get(PaymentKey)
	if !ok {
		return nil, false
	}
	outcome, ok := v.(*settlement.Outcome)
	return outcome, ok
}

// Receipt writes the receipt for the recorded payment.
func Receipt(c *gin.Context) {
	outcome, ok := OutcomeFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "no recorded payment"})
		return
	}
	c.JSON(http.StatusOK, httpx402.NewReceipt(c.Param(httpx402.ArticleIDParam), outcome))
}

// Register mounts the purchase, tip and donation endpoints on r.
func Register(r gin.IRouter, h *httpx402.Handler) {
	r.POST("/articles/:"+httpx402.ArticleIDParam+"/purchase", NewGinX402Middleware(h, httpx402.OpPurchase), Receipt)
	r.POST("/articles/:"+httpx402.ArticleIDParam+"/tip", NewGinX402Middleware(h, httpx402.OpTip), Receipt)
	r.POST("/donations", NewGinX402Middleware(h, httpx402.OpDonation), Receipt)
}
