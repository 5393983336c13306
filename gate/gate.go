// Package gate decides, per request, whether a session may invoke a tool.
// Policy is an ordered list of named rules evaluated front to back; the
// first rule that reaches a verdict wins, everything else defers. The
// ordering is deliberate: bypasses before paid credits, paid credits before
// fresh payment proofs, proofs before the free tier.
package gate

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/glazyr/paygate/config"
	"github.com/glazyr/paygate/ledger"
	"github.com/glazyr/paygate/logger"
	"github.com/glazyr/paygate/metrics"
	"github.com/glazyr/paygate/types"
	"github.com/glazyr/paygate/usage"
)

// Request headers the gate inspects.
const (
	// HeaderPaymentSignature carries a hex-prefixed transaction hash as a
	// fresh payment proof.
	HeaderPaymentSignature = "Payment-Signature"

	// HeaderOperatorAudit must match the configured secret exactly for the
	// operator bypass. Smoke tests only.
	HeaderOperatorAudit = "X-Sovereign-Audit"

	// HeaderDiscovery marks a capability-discovery call.
	HeaderDiscovery = "X-Mcp-Discovery"
)

// methodInitialize is the JSON-RPC handshake method, always allowed.
const methodInitialize = "initialize"

// Request is the gate's view of one inbound call.
type Request struct {
	// SessionID keys credit balances and free-tier counters.
	SessionID string

	// Method is the JSON-RPC method of the call body, if known.
	Method string

	// Header holds the transport headers.
	Header http.Header
}

// PaymentVerifier validates a payment proof and credits the session.
type PaymentVerifier interface {
	VerifyAndCredit(ctx context.Context, txHash, sessionID string) *types.VerificationResult
}

// rule is one policy check. handled=false defers to the next rule.
type rule struct {
	name  string
	check func(ctx context.Context, req *Request) (d types.Decision, handled bool)
}

// Gate evaluates the access policy.
type Gate struct {
	cfg      *config.Config
	store    ledger.Store
	usage    *usage.Tracker
	verifier PaymentVerifier
	logger   logger.Logger
	metrics  metrics.Recorder
	rules    []rule
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l logger.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gate) { g.metrics = r }
}

// New creates a Gate over the given ledger, usage tracker, and verifier.
func New(cfg *config.Config, store ledger.Store, tracker *usage.Tracker, verifier PaymentVerifier, opts ...Option) *Gate {
	g := &Gate{
		cfg:      cfg,
		store:    store,
		usage:    tracker,
		verifier: verifier,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.rules = []rule{
		{"discovery", g.checkDiscovery},
		{"operator-bypass", g.checkOperatorBypass},
		{"credits", g.checkCredits},
		{"payment", g.checkPayment},
		{"free-tier", g.checkFreeTier},
	}
	return g
}

// Decide evaluates the rules in order and returns the first verdict. When
// every rule defers, the request is denied with a payment challenge.
func (g *Gate) Decide(ctx context.Context, req *Request) types.Decision {
	for _, r := range g.rules {
		d, handled := r.check(ctx, req)
		if !handled {
			continue
		}
		d.Rule = r.name
		g.record(req, d)
		return d
	}

	d := types.Decision{
		Allowed:   false,
		Rule:      "quota-exhausted",
		Reason:    g.challengeMessage(),
		Challenge: g.Challenge(),
	}
	g.record(req, d)
	return d
}

func (g *Gate) record(req *Request, d types.Decision) {
	g.metrics.IncCounter("gate_decision", map[string]string{"detail": d.Rule})
	if d.Allowed {
		g.logger.Debug("request allowed", map[string]any{
			"session": req.SessionID, "rule": d.Rule,
		})
		return
	}
	g.logger.Info("request denied", map[string]any{
		"session": req.SessionID, "rule": d.Rule, "reason": d.Reason,
	})
}

// checkDiscovery allows handshake/discovery calls unconditionally, and the
// very first call of a never-seen session. The first-call case burns one
// unit of the free counter so it only fires once.
func (g *Gate) checkDiscovery(ctx context.Context, req *Request) (types.Decision, bool) {
	if req.Header.Get(HeaderDiscovery) == "true" || req.Method == methodInitialize {
		return types.Decision{Allowed: true}, true
	}
	if g.usage.Used(req.SessionID) == 0 {
		g.usage.Increment(req.SessionID)
		return types.Decision{Allowed: true}, true
	}
	return types.Decision{}, false
}

func (g *Gate) checkOperatorBypass(ctx context.Context, req *Request) (types.Decision, bool) {
	if g.cfg.OperatorSecret == "" {
		return types.Decision{}, false
	}
	if req.Header.Get(HeaderOperatorAudit) != g.cfg.OperatorSecret {
		return types.Decision{}, false
	}
	return types.Decision{Allowed: true}, true
}

// checkCredits consumes exactly one pre-purchased credit when the session
// has a positive balance. A ledger failure denies the request: credit
// consumption cannot proceed without a consistent ledger.
func (g *Gate) checkCredits(ctx context.Context, req *Request) (types.Decision, bool) {
	ok, err := g.store.ConsumeCredit(ctx, req.SessionID)
	if err != nil {
		g.logger.Error("ledger unavailable during credit consumption", map[string]any{
			"session": req.SessionID, "err": err.Error(),
		})
		return types.Decision{
			Allowed:   false,
			Reason:    "credit ledger unavailable, try again",
			Challenge: g.Challenge(),
		}, true
	}
	if !ok {
		return types.Decision{}, false
	}
	return types.Decision{Allowed: true}, true
}

// checkPayment verifies a fresh payment proof. A successful payment covers
// this request by the act of paying; the granted credits stay banked for
// subsequent calls.
func (g *Gate) checkPayment(ctx context.Context, req *Request) (types.Decision, bool) {
	sig := req.Header.Get(HeaderPaymentSignature)
	if !strings.HasPrefix(sig, "0x") {
		return types.Decision{}, false
	}

	res := g.verifier.VerifyAndCredit(ctx, sig, req.SessionID)
	if res.Success {
		return types.Decision{Allowed: true}, true
	}
	return types.Decision{
		Allowed:   false,
		Reason:    res.Message,
		Challenge: g.Challenge(),
	}, true
}

func (g *Gate) checkFreeTier(ctx context.Context, req *Request) (types.Decision, bool) {
	if g.usage.Used(req.SessionID) >= g.cfg.FreeFrameLimit {
		return types.Decision{}, false
	}
	g.usage.Increment(req.SessionID)
	return types.Decision{Allowed: true}, true
}

// Challenge builds the payment challenge from configuration.
func (g *Gate) Challenge() *types.PaymentChallenge {
	return &types.PaymentChallenge{
		Asset:   g.cfg.AssetAddress,
		Amount:  g.cfg.MinPaymentAtomic(),
		Network: g.cfg.Network,
		PayTo:   g.cfg.TreasuryAddress,
		Message: g.challengeMessage(),
	}
}

func (g *Gate) challengeMessage() string {
	return fmt.Sprintf("quota exceeded: settle %s on %s for %d frames",
		g.cfg.MinPayment.StringFixed(2), g.cfg.Network, g.cfg.FramesForMinPayment())
}
