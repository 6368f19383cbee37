package server

import (
	"context"
	"fmt"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	httpx402 "github.com/quillwire/x402-settle/http"
	"github.com/quillwire/x402-settle/mcp"
	"github.com/quillwire/x402-settle/settlement"
)

// Article tool names.
const (
	ToolPurchaseArticle = "purchase_article"
	ToolTipArticle      = "tip_article"
	ToolDonate          = "donate"
)

// RegisterArticleTools adds the purchase, tip and donation tools. Resources
// supplies the article shown once a purchase is recorded.
func RegisterArticleTools(s *X402Server, resources settlement.ResourceStore) error {
	network := mcpproto.WithString(mcp.ArgNetwork,
		mcpproto.Description("Payment network: base, base-sepolia, solana or solana-devnet"))

	purchase := mcpproto.NewTool(ToolPurchaseArticle,
		mcpproto.WithDescription("Buy permanent access to an article. Send the x402 payment in _meta[\"x402/payment\"]."),
		mcpproto.WithString(mcp.ArgArticleID, mcpproto.Required(), mcpproto.Description("Article ID")),
		network,
	)
	tip := mcpproto.NewTool(ToolTipArticle,
		mcpproto.WithDescription("Tip an article's publisher any amount in USD."),
		mcpproto.WithString(mcp.ArgArticleID, mcpproto.Required(), mcpproto.Description("Article ID")),
		mcpproto.WithString(mcp.ArgAmount, mcpproto.Required(), mcpproto.Description("Amount in USD, e.g. \"2.50\"")),
		network,
	)
	donate := mcpproto.NewTool(ToolDonate,
		mcpproto.WithDescription("Donate any amount in USD to the platform."),
		mcpproto.WithString(mcp.ArgAmount, mcpproto.Required(), mcpproto.Description("Amount in USD, e.g. \"10\"")),
		network,
	)

	if err := s.AddPayableTool(purchase, purchaseHandler(resources), PaidTool{Operation: httpx402.OpPurchase}); err != nil {
		return err
	}
	if err := s.AddPayableTool(tip, receiptHandler("Tip"), PaidTool{Operation: httpx402.OpTip}); err != nil {
		return err
	}
	return s.AddPayableTool(donate, receiptHandler("Donation"), PaidTool{Operation: httpx402.OpDonation})
}

func purchaseHandler(resources settlement.ResourceStore) func(context.Context, mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	return func(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		id, err := request.RequireString(mcp.ArgArticleID)
		if err != nil {
			return mcpproto.NewToolResultError(err.Error()), nil
		}
		res, err := resources.GetByID(ctx, id)
		if err != nil {
			return mcpproto.NewToolResultError(err.Error()), nil
		}
		text := fmt.Sprintf("Purchased %q: %s", res.Title, res.URL)
		if outcome, ok := httpx402.OutcomeFromContext(ctx); ok && outcome.TransactionHash() != "" {
			text += " (transaction " + outcome.TransactionHash() + ")"
		}
		return mcpproto.NewToolResultText(text), nil
	}
}

func receiptHandler(label string) func(context.Context, mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	return func(ctx context.Context, _ mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		text := label + " received, thank you"
		if outcome, ok := httpx402.OutcomeFromContext(ctx); ok && outcome.TransactionHash() != "" {
			text += " (transaction " + outcome.TransactionHash() + ")"
		}
		return mcpproto.NewToolResultText(text), nil
	}
}
