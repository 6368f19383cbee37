package server

import (
	"fmt"
	"net/http"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// X402Server wraps an MCP server and adds x402 payment protection
type X402Server struct {
	mcpServer *mcpserver.MCPServer
	config    *Config
}

// NewX402Server creates a new MCP server with x402 payment support
func NewX402Server(name, version string, config *Config) *X402Server {
	if config.PaymentTools == nil {
		config.PaymentTools = make(map[string]PaidTool)
	}
	return &X402Server{
		mcpServer: mcpserver.NewMCPServer(name, version, mcpserver.WithToolCapabilities(false)),
		config:    config,
	}
}

// AddTool adds a free tool (no payment required)
func (s *X402Server) AddTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// AddPayableTool adds a tool that only runs once its payment is recorded.
func (s *X402Server) AddPayableTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc, paid PaidTool) error {
	if tool.Name == "" {
		return fmt.Errorf("payable tool must have a name")
	}
	s.config.AddPaymentTool(tool.Name, paid)
	s.mcpServer.AddTool(tool, handler)
	return nil
}

// Handler returns an HTTP handler wrapped with x402 payment middleware
func (s *X402Server) Handler() http.Handler {
	httpServer := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return NewX402Handler(httpServer, s.config)
}

// Start starts the MCP server on the given address
func (s *X402Server) Start(addr string) error {
	s.config.logger().Info("starting x402 MCP server", "addr", addr, "paidTools", len(s.config.PaymentTools))
	return http.ListenAndServe(addr, s.Handler())
}

// GetMCPServer returns the underlying MCP server (for advanced usage)
func (s *X402Server) GetMCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
