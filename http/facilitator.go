package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/facilitator"
)

// maxFacilitatorResponse caps how much of a facilitator response body is read.
const maxFacilitatorResponse = 1 << 20

// AuthorizationProvider returns the Authorization header value for an outgoing
// facilitator request. It sees the request so signed schemes can bind the token
// to the method and path.
type AuthorizationProvider func(r *http.Request) (string, error)

// FacilitatorClient is a client for communicating with x402 facilitator services.
// It implements facilitator.Interface.
type FacilitatorClient struct {
	BaseURL  string
	Client   *http.Client
	Timeouts x402.TimeoutConfig

	// Authorization is a static Authorization header value, e.g. "Bearer key".
	Authorization string

	// AuthorizationProvider, if set, takes precedence over Authorization.
	AuthorizationProvider AuthorizationProvider

	Logger *slog.Logger
}

var _ facilitator.Interface = (*FacilitatorClient)(nil)

// FacilitatorRequest is the request payload sent to the facilitator.
type FacilitatorRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// negativeBody is how facilitators describe a rejection on a non-200 status.
type negativeBody struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason"`
	ErrorReason   string `json:"errorReason"`
	Error         string `json:"error"`
	Payer         string `json:"payer"`
}

func (b negativeBody) reason(status int) string {
	for _, s := range []string{b.InvalidReason, b.ErrorReason, b.Error} {
		if s != "" {
			return s
		}
	}
	return fmt.Sprintf("facilitator returned status %d", status)
}

// Verify verifies a payment authorization without executing the transaction.
func (c *FacilitatorClient) Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	status, body, err := c.post(ctx, "/verify", c.timeouts().VerifyTimeout, payment, requirement)
	if err != nil {
		return nil, err
	}

	if status == http.StatusOK {
		var resp facilitator.VerifyResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: undecodable verify response: %v", x402.ErrFacilitatorUnreachable, err)
		}
		return &resp, nil
	}

	var neg negativeBody
	if err := json.Unmarshal(body, &neg); err != nil {
		return nil, fmt.Errorf("%w: verify status %d", x402.ErrFacilitatorUnreachable, status)
	}
	return &facilitator.VerifyResponse{IsValid: false, InvalidReason: neg.reason(status), Payer: neg.Payer}, nil
}

// Settle executes a verified payment on the blockchain. It is sent exactly once.
func (c *FacilitatorClient) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	status, body, err := c.post(ctx, "/settle", c.timeouts().SettleTimeout, payment, requirement)
	if err != nil {
		return nil, err
	}

	if status == http.StatusOK {
		var resp x402.SettlementResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: undecodable settle response: %v", x402.ErrFacilitatorUnreachable, err)
		}
		return &resp, nil
	}

	var neg negativeBody
	if err := json.Unmarshal(body, &neg); err != nil {
		return nil, fmt.Errorf("%w: settle status %d", x402.ErrFacilitatorUnreachable, status)
	}
	return &x402.SettlementResponse{
		Success:     false,
		ErrorReason: neg.reason(status),
		Network:     requirement.Network,
		Payer:       neg.Payer,
	}, nil
}

// Supported queries the facilitator for supported payment types.
func (c *FacilitatorClient) Supported(ctx context.Context) (*facilitator.SupportedResponse, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/supported", c.timeouts().RequestTimeout, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: supported status %d", x402.ErrFacilitatorUnreachable, status)
	}

	var resp facilitator.SupportedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: undecodable supported response: %v", x402.ErrFacilitatorUnreachable, err)
	}
	return &resp, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, timeout time.Duration, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (int, []byte, error) {
	data, err := json.Marshal(FacilitatorRequest{
		X402Version:         x402.Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, timeout, data)
}

// do sends one request. Anything that says nothing about the payment itself
// (transport errors, 5xx, 429, auth failures) comes back as ErrFacilitatorUnreachable.
func (c *FacilitatorClient) do(ctx context.Context, method, path string, timeout time.Duration, data []byte) (int, []byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		return 0, nil, fmt.Errorf("%w: authorization: %v", x402.ErrFacilitatorUnreachable, err)
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.logger().Warn("facilitator request failed", "path", path, "error", err)
		return 0, nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorResponse))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading response: %v", x402.ErrFacilitatorUnreachable, err)
	}

	c.logger().Debug("facilitator response", "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil, fmt.Errorf("%w: %s status %d", x402.ErrFacilitatorUnreachable, path, resp.StatusCode)
	}
	return resp.StatusCode, respBody, nil
}

func (c *FacilitatorClient) authorize(req *http.Request) error {
	if c.AuthorizationProvider != nil {
		value, err := c.AuthorizationProvider(req)
		if err != nil {
			return err
		}
		if value != "" {
			req.Header.Set("Authorization", value)
		}
		return nil
	}
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}
	return nil
}

func (c *FacilitatorClient) timeouts() x402.TimeoutConfig {
	return c.Timeouts.WithDefaults()
}

func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *FacilitatorClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
