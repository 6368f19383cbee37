package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/retry"
)

// SupportedSource is the part of Interface the capability cache needs.
type SupportedSource interface {
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// Capabilities caches the facilitator's /supported answer, reduced to a
// network to fee payer table.
//
// Lifecycle: empty until the first successful hydration, then immutable for the
// life of the value. At most one hydration is in flight; callers that arrive while
// it runs share its outcome. A failed hydration leaves the cache empty so the next
// caller starts a new one.
type Capabilities struct {
	source  SupportedSource
	retry   retry.Config
	timeout time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	loaded    bool
	feePayers map[x402.Network]string
	kinds     []SupportedKind
}

// CapabilitiesOption configures a Capabilities.
type CapabilitiesOption func(*Capabilities)

// WithRetryConfig sets the backoff used for hydration.
func WithRetryConfig(cfg retry.Config) CapabilitiesOption {
	return func(c *Capabilities) { c.retry = cfg }
}

// WithHydrationTimeout bounds one hydration, retries included.
func WithHydrationTimeout(d time.Duration) CapabilitiesOption {
	return func(c *Capabilities) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CapabilitiesOption {
	return func(c *Capabilities) { c.logger = l }
}

// NewCapabilities creates an empty cache backed by source.
func NewCapabilities(source SupportedSource, opts ...CapabilitiesOption) *Capabilities {
	c := &Capabilities{
		source:  source,
		retry:   retry.DefaultConfig,
		timeout: x402.DefaultTimeouts.RequestTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureLoaded hydrates the cache if it is empty. The shared hydration is detached
// from ctx so one caller giving up does not fail the others; ctx only bounds how
// long this caller waits.
func (c *Capabilities) EnsureLoaded(ctx context.Context) error {
	if c.isLoaded() {
		return nil
	}

	ch := c.group.DoChan("supported", func() (interface{}, error) {
		if c.isLoaded() {
			return nil, nil
		}
		return nil, c.hydrate(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Capabilities) hydrate(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cfg := c.retry
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	resp, err := retry.WithRetry(ctx, cfg, retry.Transient, func(ctx context.Context) (*SupportedResponse, error) {
		return c.source.Supported(ctx)
	})
	if err != nil {
		c.logger.Warn("facilitator capability hydration failed", "error", err)
		return err
	}

	feePayers := make(map[x402.Network]string)
	for _, kind := range resp.Kinds {
		n, err := x402.ParseNetwork(kind.Network)
		if err != nil {
			continue
		}
		if fp := kind.FeePayer(); fp != "" {
			feePayers[n] = fp
		}
	}

	c.mu.Lock()
	c.feePayers = feePayers
	c.kinds = append([]SupportedKind(nil), resp.Kinds...)
	c.loaded = true
	c.mu.Unlock()

	c.logger.Info("facilitator capabilities loaded", "kinds", len(resp.Kinds), "feePayers", len(feePayers))
	return nil
}

func (c *Capabilities) isLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// FeePayer returns the facilitator's fee payer for a Solana network, hydrating the
// cache first if needed.
func (c *Capabilities) FeePayer(ctx context.Context, network x402.Network) (string, error) {
	if err := c.EnsureLoaded(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", x402.ErrFeePayerUnavailable, err)
	}

	c.mu.RLock()
	fp, ok := c.feePayers[network]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: facilitator advertises no fee payer for %s", x402.ErrFeePayerUnavailable, network)
	}
	return fp, nil
}

// Kinds returns a copy of the cached supported kinds; nil before hydration.
func (c *Capabilities) Kinds() []SupportedKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]SupportedKind(nil), c.kinds...)
}
