package http

import (
	"net/http"

	"github.com/quillwire/x402-settle/http/internal/helpers"
	"github.com/quillwire/x402-settle/settlement"
)

// ArticleIDParam is the path wildcard naming the article.
const ArticleIDParam = "articleID"

// Receipt is the body returned once a payment is recorded.
type Receipt struct {
	Success         bool   `json:"success"`
	Kind            string `json:"kind"`
	ArticleID       string `json:"articleId,omitempty"`
	Amount          string `json:"amount,omitempty"`
	TransactionHash string `json:"transactionHash"`
	Payer           string `json:"payer"`
	Network         string `json:"network"`
}

// NewReceipt describes a recorded outcome.
func NewReceipt(articleID string, outcome *settlement.Outcome) Receipt {
	receipt := Receipt{
		Success:         true,
		ArticleID:       articleID,
		TransactionHash: outcome.TransactionHash(),
		Payer:           outcome.Payer,
		Network:         outcome.Requirement.Network,
	}
	if outcome.Record != nil {
		receipt.Kind = string(outcome.Record.Kind)
		receipt.Amount = outcome.Record.Amount
	}
	if outcome.Settlement != nil && outcome.Settlement.Network != "" {
		receipt.Network = outcome.Settlement.Network
	}
	return receipt
}

// ServeReceipt writes the receipt for the outcome Middleware stored.
func ServeReceipt(w http.ResponseWriter, r *http.Request) {
	outcome, ok := OutcomeFromContext(r.Context())
	if !ok {
		http.Error(w, "no recorded payment", http.StatusInternalServerError)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, NewReceipt(r.PathValue(ArticleIDParam), outcome))
}

// Routes registers the payment routes on mux:
//
//	POST /articles/{articleID}/purchase?network=
//	POST /articles/{articleID}/tip?network=&amount=
//	POST /donations?network=&amount=
func (h *Handler) Routes(mux *http.ServeMux) {
	byPath := func(r *http.Request) string { return r.PathValue(ArticleIDParam) }
	receipt := http.HandlerFunc(ServeReceipt)

	mux.Handle("POST /articles/{"+ArticleIDParam+"}/purchase", h.Middleware(OpPurchase, byPath)(receipt))
	mux.Handle("POST /articles/{"+ArticleIDParam+"}/tip", h.Middleware(OpTip, byPath)(receipt))
	mux.Handle("POST /donations", h.Middleware(OpDonation, nil)(receipt))
}
