package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/quillwire/x402-settle"
	httpx402 "github.com/quillwire/x402-settle/http"
	"github.com/quillwire/x402-settle/mcp"
	"github.com/quillwire/x402-settle/settlement"
)

// X402Handler wraps an MCP HTTP handler and settles payments for paid tools
// before the call reaches the tool.
type X402Handler struct {
	mcpHandler http.Handler
	config     *Config
}

// NewX402Handler creates a new x402 payment handler
func NewX402Handler(mcpHandler http.Handler, config *Config) *X402Handler {
	if config == nil || config.Engine == nil {
		panic("x402: an engine must be configured")
	}
	return &X402Handler{mcpHandler: mcpHandler, config: config}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Meta      map[string]interface{} `json:"_meta"`
}

// ServeHTTP intercepts HTTP requests to check for x402 payments
func (h *X402Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.config.logger()
	// Only intercept POST requests (JSON-RPC calls)
	if r.Method != http.MethodPost {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, nil, mcp.CodeParseError, "Parse error", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var rpc jsonrpcRequest
	if err := json.Unmarshal(bodyBytes, &rpc); err != nil {
		h.writeError(w, nil, mcp.CodeParseError, "Parse error", nil)
		return
	}

	// Only intercept tools/call methods
	if rpc.Method != "tools/call" {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	var params toolCallParams
	if err := json.Unmarshal(rpc.Params, &params); err != nil {
		h.writeError(w, rpc.ID, mcp.CodeInvalidParams, "Invalid params", nil)
		return
	}
	logger = logger.With("requestID", rpc.ID, "tool", params.Name)

	paid, ok := h.config.PaymentTools[params.Name]
	if !ok {
		// Free tool - pass through
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	req, err := h.settlementRequest(params, paid.Operation)
	if err != nil {
		logger.Warn("invalid paid tool call", "error", err)
		h.writeError(w, rpc.ID, mcp.CodeFor(err), err.Error(), mcp.NewErrorData(err))
		return
	}

	outcome, err := paid.Operation.Run(r.Context(), h.config.Engine, req)
	if err != nil {
		h.writeError(w, rpc.ID, mcp.CodeFor(err), "Payment rejected", mcp.NewErrorData(err))
		return
	}
	if outcome.Challenged() {
		logger.Info("no payment provided for paid tool")
		h.sendPaymentRequiredError(w, rpc.ID, []x402.PaymentRequirement{outcome.Requirement})
		return
	}

	r = r.WithContext(httpx402.WithOutcome(r.Context(), outcome))
	h.forwardWithReceipt(w, r, bodyBytes, outcome, logger)
}

// settlementRequest reads the article, network, amount and payment from a tool call.
func (h *X402Handler) settlementRequest(params toolCallParams, op httpx402.Operation) (settlement.Request, error) {
	req := settlement.Request{
		Network: h.config.DefaultNetwork,
		URL:     fmt.Sprintf("mcp://tools/%s", params.Name),
	}
	if id, ok := params.Arguments[mcp.ArgArticleID].(string); ok {
		req.ResourceID = id
	}
	if n, ok := params.Arguments[mcp.ArgNetwork].(string); ok && n != "" {
		req.Network = x402.Network(n)
	}

	payment, err := mcp.PaymentFromMeta(params.Meta)
	if err != nil {
		return req, fmt.Errorf("%w: %w", mcp.ErrInvalidRequest, err)
	}
	req.Payment = payment

	if op == httpx402.OpPurchase {
		return req, nil
	}
	amount, err := parseAmount(params.Arguments[mcp.ArgAmount])
	if err != nil {
		return req, err
	}
	req.Amount = amount
	return req, nil
}

// parseAmount accepts the amount as a JSON string or number.
func parseAmount(v interface{}) (decimal.Decimal, error) {
	switch a := v.(type) {
	case string:
		d, err := decimal.NewFromString(a)
		if err != nil {
			return decimal.Zero, x402.NewPaymentError(x402.ErrCodeInvalidAmount, fmt.Sprintf("amount %q is not a number", a), x402.ErrInvalidAmount)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(a), nil
	case nil:
		return decimal.Zero, x402.Reject(x402.ErrInvalidAmount, "amount is required")
	default:
		return decimal.Zero, x402.Reject(x402.ErrInvalidAmount, "amount must be a string or number")
	}
}

// sendPaymentRequiredError sends a 402 error with payment requirements
func (h *X402Handler) sendPaymentRequiredError(w http.ResponseWriter, id interface{}, requirements []x402.PaymentRequirement) {
	errorData := x402.PaymentRequirementsResponse{
		X402Version: x402.Version,
		Error:       "Payment required to access this resource",
		Accepts:     requirements,
	}
	h.writeError(w, id, mcp.PaymentRequiredCode, "Payment required", errorData)
}

// forwardWithReceipt runs the tool and injects the settlement into result._meta.
// The payment is already recorded, so a failing tool does not undo it.
func (h *X402Handler) forwardWithReceipt(w http.ResponseWriter, r *http.Request, requestBody []byte, outcome *settlement.Outcome, logger *slog.Logger) {
	recorder := &responseRecorder{
		headerMap:  make(http.Header),
		statusCode: http.StatusOK,
	}

	r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
	h.mcpHandler.ServeHTTP(recorder, r)

	var jsonrpcResp struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   interface{}     `json:"error,omitempty"`
		ID      interface{}     `json:"id"`
	}
	if err := json.Unmarshal(recorder.body.Bytes(), &jsonrpcResp); err != nil || jsonrpcResp.Error != nil || jsonrpcResp.Result == nil {
		if jsonrpcResp.Error != nil {
			logger.Warn("paid tool failed after payment was recorded", "transaction", outcome.TransactionHash())
		}
		recorder.copyTo(w, recorder.body.Bytes())
		return
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonrpcResp.Result, &result); err == nil {
		meta, ok := result["_meta"].(map[string]interface{})
		if !ok {
			meta = make(map[string]interface{})
		}
		meta[mcp.MetaKeyPaymentResponse] = outcome.Settlement
		result["_meta"] = meta

		if modifiedResult, err := json.Marshal(result); err == nil {
			jsonrpcResp.Result = modifiedResult
		}
	}

	responseBytes, err := json.Marshal(jsonrpcResp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	recorder.headerMap.Del("Content-Length")
	recorder.copyTo(w, responseBytes)
}

// writeError writes a JSON-RPC error response
func (h *X402Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	errorResp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}

	if data != nil {
		errorResp["error"].(map[string]interface{})["data"] = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors use 200 status
	_ = json.NewEncoder(w).Encode(errorResp)
}

// responseRecorder records HTTP responses for modification
type responseRecorder struct {
	headerMap  http.Header
	body       bytes.Buffer
	statusCode int
}

func (r *responseRecorder) Header() http.Header {
	return r.headerMap
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
}

func (r *responseRecorder) copyTo(w http.ResponseWriter, body []byte) {
	for k, v := range r.headerMap {
		w.Header()[k] = v
	}
	w.WriteHeader(r.statusCode)
	_, _ = w.Write(body)
}
