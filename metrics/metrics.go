// Package metrics abstracts the counters and latency histograms paygate
// records: gate decisions per rule, verification outcomes per failure code,
// and ledger/verification latency.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
