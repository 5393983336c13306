package paygate

import (
	"time"

	"github.com/glazyr/paygate/ledger"
	"github.com/glazyr/paygate/logger"
	"github.com/glazyr/paygate/metrics"
	"github.com/glazyr/paygate/verification"
)

type Option func(*Paygate)

func WithLogger(l logger.Logger) Option {
	return func(p *Paygate) {
		p.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Paygate) {
		p.metrics = r
	}
}

// WithTimeout overrides the per-verification timeout from configuration.
func WithTimeout(d time.Duration) Option {
	return func(p *Paygate) {
		p.verifyTimeout = d
	}
}

// WithStore substitutes the ledger backend, bypassing cfg.LedgerBackend.
// The caller keeps ownership and closes it.
func WithStore(s ledger.Store) Option {
	return func(p *Paygate) {
		p.store = s
	}
}

// WithChainReader substitutes the receipt source, bypassing cfg.RPCURL.
func WithChainReader(r verification.ChainReader) Option {
	return func(p *Paygate) {
		p.reader = r
	}
}
