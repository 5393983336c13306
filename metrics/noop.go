package metrics

import "time"

// NoopRecorder discards every observation. It is the default wherever no
// recorder is configured, so gate and verifier code never nil-checks.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
