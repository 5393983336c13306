// Package types defines the shared data structures for the paygate module:
// the durable ledger, payment challenges, verification results, and access
// decisions.
package types

// Network identifies the blockchain a payment settles on. A deployment
// accepts exactly one network.
type Network string

const (
	NetworkBase        Network = "base-mainnet"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
)

func (n Network) String() string {
	return string(n)
}

// Ledger is the durable record of redeemed payments and remaining
// per-session frame credits. The JSON field names match the on-disk format
// the server has always written, so existing ledger files remain readable.
type Ledger struct {
	// ConsumedTxs holds every transaction hash that has been redeemed for
	// credits. A hash appears at most once, ever.
	ConsumedTxs []string `json:"processedHashes"`

	// Credits maps session id to remaining frame balance. Never negative.
	Credits map[string]int64 `json:"credits"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		ConsumedTxs: []string{},
		Credits:     make(map[string]int64),
	}
}

// HasConsumed reports whether txHash has already been redeemed.
func (l *Ledger) HasConsumed(txHash string) bool {
	for _, h := range l.ConsumedTxs {
		if h == txHash {
			return true
		}
	}
	return false
}

// MarkConsumed records txHash as redeemed. Idempotent.
func (l *Ledger) MarkConsumed(txHash string) {
	if l.HasConsumed(txHash) {
		return
	}
	l.ConsumedTxs = append(l.ConsumedTxs, txHash)
}

// CreditsFor returns the remaining balance for a session, 0 if unknown.
func (l *Ledger) CreditsFor(sessionID string) int64 {
	return l.Credits[sessionID]
}

// Grant adds frames to a session's balance.
func (l *Ledger) Grant(sessionID string, frames int64) {
	if l.Credits == nil {
		l.Credits = make(map[string]int64)
	}
	l.Credits[sessionID] += frames
}

// ConsumeOne decrements a session's balance by exactly one. Returns false
// and leaves the ledger unchanged when the balance is zero.
func (l *Ledger) ConsumeOne(sessionID string) bool {
	if l.Credits[sessionID] <= 0 {
		return false
	}
	l.Credits[sessionID]--
	return true
}

// PaymentChallenge describes how a denied caller can pay for access. It is
// delivered both as a base64 PAYMENT-REQUIRED header and as the 402 JSON
// body.
type PaymentChallenge struct {
	// Asset is the ERC-20 contract address payments must come from.
	Asset string `json:"asset"`

	// Amount is the required payment in the asset's smallest unit,
	// represented as a string because Go does not support uint256.
	Amount string `json:"amount"`

	// Network the payment must settle on.
	Network string `json:"network"`

	// PayTo is the treasury address that must receive the transfer.
	PayTo string `json:"payTo"`

	// Message is a human-readable payment instruction.
	Message string `json:"message"`
}

// VerificationResult is the outcome of one payment verification attempt.
// It is returned to the caller; on success the granted frames have already
// been persisted to the ledger as a side effect.
type VerificationResult struct {
	Success bool `json:"success"`

	// Code classifies a failure (one of the Err* constants); empty on
	// success. Callers branch on Code, never on Message.
	Code string `json:"code,omitempty"`

	// Message is safe to surface to the caller. Provider detail is logged
	// server-side only.
	Message string `json:"message"`

	// GrantedFrames is the number of frames credited, 0 on failure.
	GrantedFrames int64 `json:"grantedFrames,omitempty"`
}

// Decision is the outcome of one access-gate evaluation.
type Decision struct {
	// Allowed reports whether the request may proceed to tool dispatch.
	Allowed bool `json:"allowed"`

	// Rule names the policy rule that decided (e.g. "credits",
	// "free-tier", "payment").
	Rule string `json:"rule"`

	// Reason is a human-readable explanation, set on deny.
	Reason string `json:"reason,omitempty"`

	// Challenge is always present on deny so callers can distinguish a
	// rejected proof from an exhausted quota and still know how to pay.
	Challenge *PaymentChallenge `json:"challenge,omitempty"`
}
