package metrics

import "time"

type NoopRecorder struct{}

func (NoopRecorder) IncOutcome(string, string, string)             {}
func (NoopRecorder) ObserveLatency(string, string, time.Duration) {}
