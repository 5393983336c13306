// Package paygate gates a metered tool server behind on-chain USDC
// payments. It verifies ERC-20 transfers to a configured treasury, banks
// the resulting frame credits in a durable ledger, and decides per request
// whether a session may proceed.
package paygate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glazyr/paygate/config"
	"github.com/glazyr/paygate/gate"
	"github.com/glazyr/paygate/ledger"
	"github.com/glazyr/paygate/logger"
	"github.com/glazyr/paygate/metrics"
	"github.com/glazyr/paygate/usage"
	"github.com/glazyr/paygate/verification"
)

// Version is reported by /health and the version command.
const Version = "0.2.4"

// Paygate bundles the ledger, verifier, usage tracker, and gate for one
// deployment.
type Paygate struct {
	cfg      *config.Config
	store    ledger.Store
	reader   verification.ChainReader
	verifier *verification.Verifier
	tracker  *usage.Tracker
	gate     *gate.Gate
	logger   logger.Logger
	metrics  metrics.Recorder

	verifyTimeout time.Duration
	closers       []func()
}

// New builds a Paygate from configuration: the ledger backend named by
// cfg.LedgerBackend, an RPC-backed chain reader, and the policy gate on
// top. Options may substitute any of the pieces.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Paygate, error) {
	p := &Paygate{
		cfg:     cfg,
		tracker: usage.NewTracker(),
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.store == nil {
		store, err := openStore(ctx, cfg, p)
		if err != nil {
			return nil, err
		}
		p.store = store
	}

	if p.reader == nil {
		reader, err := verification.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to rpc provider: %w", err)
		}
		p.reader = reader
		p.closers = append(p.closers, reader.Close)
	}

	vopts := []verification.Option{
		verification.WithLogger(p.logger),
		verification.WithMetrics(p.metrics),
	}
	if p.verifyTimeout > 0 {
		vopts = append(vopts, verification.WithTimeout(p.verifyTimeout))
	}
	p.verifier = verification.NewVerifier(p.reader, p.store, cfg, vopts...)
	p.gate = gate.New(cfg, p.store, p.tracker, p.verifier,
		gate.WithLogger(p.logger),
		gate.WithMetrics(p.metrics),
	)
	return p, nil
}

func openStore(ctx context.Context, cfg *config.Config, p *Paygate) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case config.BackendFile:
		return ledger.NewFileStore(cfg.LedgerPath)

	case config.BackendRedis:
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		p.closers = append(p.closers, func() { _ = client.Close() })
		return ledger.NewRedisStore(client), nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		store := ledger.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("preparing ledger schema: %w", err)
		}
		p.closers = append(p.closers, pool.Close)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// Gate returns the access gate.
func (p *Paygate) Gate() *gate.Gate {
	return p.gate
}

// Verifier returns the payment verifier.
func (p *Paygate) Verifier() *verification.Verifier {
	return p.verifier
}

// Store returns the ledger store.
func (p *Paygate) Store() ledger.Store {
	return p.store
}

// Tracker returns the in-memory usage tracker.
func (p *Paygate) Tracker() *usage.Tracker {
	return p.tracker
}

// Close releases the RPC client and ledger backend connections.
func (p *Paygate) Close() {
	for _, c := range p.closers {
		c()
	}
}
