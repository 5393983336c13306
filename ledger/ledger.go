// Package ledger persists the set of redeemed transaction hashes and
// per-session frame credits.
//
// Every implementation serializes its mutations: replay protection is only
// as strong as the store's write path, so a compound operation like Redeem
// (mark a hash consumed + grant credits) is always a single critical
// section or transaction, never a read-modify-write that can interleave
// with another request.
package ledger

import (
	"context"

	"github.com/glazyr/paygate/types"
)

// Store is the durable ledger contract. Failures are reported as
// *types.GateError with code PERSISTENCE_ERROR (or REPLAY_DETECTED from
// Redeem).
type Store interface {
	// Load returns a snapshot of the full ledger.
	Load(ctx context.Context) (*types.Ledger, error)

	// HasConsumed reports whether txHash has already been redeemed.
	HasConsumed(ctx context.Context, txHash string) (bool, error)

	// MarkConsumed records txHash as redeemed without granting anything.
	// Idempotent. Verification uses Redeem instead so the mark and the
	// grant land atomically.
	MarkConsumed(ctx context.Context, txHash string) error

	// Credits returns the remaining balance for a session, 0 if unknown.
	Credits(ctx context.Context, sessionID string) (int64, error)

	// GrantCredits adds frames to a session's balance.
	GrantCredits(ctx context.Context, sessionID string, frames int64) error

	// ConsumeCredit decrements a session's balance by exactly one. Returns
	// false, without error, when the balance is zero.
	ConsumeCredit(ctx context.Context, sessionID string) (bool, error)

	// Redeem atomically marks txHash consumed and grants frames to the
	// session. Returns a REPLAY_DETECTED error if the hash was already
	// consumed; in that case no credits are granted.
	Redeem(ctx context.Context, txHash, sessionID string, frames int64) error
}

// ReplayError reports a transaction hash that was already redeemed. The
// hash itself is deliberately not echoed back.
func ReplayError() *types.GateError {
	return &types.GateError{
		Code:    types.ErrReplayDetected,
		Message: "replay protection: transaction hash already processed",
	}
}
