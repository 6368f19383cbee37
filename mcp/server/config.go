// Package server provides MCP server integration for x402 payment gating.
// It enables payment-gated article tools via the Model Context Protocol.
package server

import (
	"log/slog"

	"github.com/quillwire/x402-settle"
	httpx402 "github.com/quillwire/x402-settle/http"
)

// PaidTool describes how a tool call is paid for.
type PaidTool struct {
	// Operation is the flow the call runs.
	Operation httpx402.Operation
}

// Config holds configuration for the MCP server with x402 payment support
type Config struct {
	// Engine settles payments for paid tools.
	Engine httpx402.Settler

	// DefaultNetwork is used when a call has no network argument.
	DefaultNetwork x402.Network

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// PaymentTools maps tool names to how they are paid for.
	PaymentTools map[string]PaidTool
}

// AddPaymentTool marks a tool as paid.
func (c *Config) AddPaymentTool(toolName string, paid PaidTool) {
	if c.PaymentTools == nil {
		c.PaymentTools = make(map[string]PaidTool)
	}
	c.PaymentTools[toolName] = paid
}

// RequiresPayment checks if a tool requires payment
func (c *Config) RequiresPayment(toolName string) bool {
	_, ok := c.PaymentTools[toolName]
	return ok
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
