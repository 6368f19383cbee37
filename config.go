package x402

import (
	"fmt"
	"time"
)

// TimeoutConfig bounds each kind of outbound facilitator call.
type TimeoutConfig struct {
	// VerifyTimeout bounds a /verify round trip.
	VerifyTimeout time.Duration `yaml:"verify"`

	// SettleTimeout bounds a /settle round trip. It is longer because the
	// facilitator waits for the transaction to land.
	SettleTimeout time.Duration `yaml:"settle"`

	// RequestTimeout bounds everything else: /supported and RPC lookups.
	RequestTimeout time.Duration `yaml:"request"`
}

// DefaultTimeouts are used when configuration leaves a value unset.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// Validate rejects non-positive timeouts and a settle timeout shorter than verify.
func (c TimeoutConfig) Validate() error {
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("verify timeout must be positive, got %v", c.VerifyTimeout)
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("settle timeout must be positive, got %v", c.SettleTimeout)
	}
	if c.SettleTimeout < c.VerifyTimeout {
		return fmt.Errorf("settle timeout (%v) must not be shorter than verify timeout (%v)", c.SettleTimeout, c.VerifyTimeout)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative, got %v", c.RequestTimeout)
	}
	return nil
}

// WithDefaults fills zero fields from DefaultTimeouts.
func (c TimeoutConfig) WithDefaults() TimeoutConfig {
	if c.VerifyTimeout == 0 {
		c.VerifyTimeout = DefaultTimeouts.VerifyTimeout
	}
	if c.SettleTimeout == 0 {
		c.SettleTimeout = DefaultTimeouts.SettleTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultTimeouts.RequestTimeout
	}
	return c
}

func (c TimeoutConfig) WithVerifyTimeout(d time.Duration) TimeoutConfig {
	c.VerifyTimeout = d
	return c
}

func (c TimeoutConfig) WithSettleTimeout(d time.Duration) TimeoutConfig {
	c.SettleTimeout = d
	return c
}

func (c TimeoutConfig) WithRequestTimeout(d time.Duration) TimeoutConfig {
	c.RequestTimeout = d
	return c
}
