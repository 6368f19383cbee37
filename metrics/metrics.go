// Package metrics records settlement outcomes and facilitator latency.
package metrics

import "time"

// Recorder receives settlement events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// IncOutcome counts one finished request. outcome is "recorded", "challenged"
	// or a rejection reason code.
	IncOutcome(network, kind, outcome string)

	// ObserveLatency records how long an external call took.
	ObserveLatency(operation, network string, d time.Duration)
}
