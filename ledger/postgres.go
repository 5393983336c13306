package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glazyr/paygate/types"
)

// PostgresStore is a PostgreSQL-backed ledger. The consumed set is a
// primary-keyed table, so replay protection is an ON CONFLICT check inside
// the same transaction that grants credits.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed ledger.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the ledger tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS paygate_consumed (
			tx_hash TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			redeemed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS paygate_credits (
			session_id TEXT PRIMARY KEY,
			frames BIGINT NOT NULL CHECK (frames >= 0)
		);
	`)
	if err != nil {
		return types.PersistenceError("postgres: ensure schema", err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context) (*types.Ledger, error) {
	l := types.NewLedger()

	rows, err := s.pool.Query(ctx,
		`SELECT tx_hash FROM paygate_consumed ORDER BY redeemed_at`)
	if err != nil {
		return nil, types.PersistenceError("postgres: loading consumed set", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, types.PersistenceError("postgres: scanning consumed set", err)
		}
		l.ConsumedTxs = append(l.ConsumedTxs, h)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PersistenceError("postgres: loading consumed set", err)
	}

	crows, err := s.pool.Query(ctx,
		`SELECT session_id, frames FROM paygate_credits`)
	if err != nil {
		return nil, types.PersistenceError("postgres: loading credits", err)
	}
	defer crows.Close()
	for crows.Next() {
		var sid string
		var frames int64
		if err := crows.Scan(&sid, &frames); err != nil {
			return nil, types.PersistenceError("postgres: scanning credits", err)
		}
		l.Credits[sid] = frames
	}
	if err := crows.Err(); err != nil {
		return nil, types.PersistenceError("postgres: loading credits", err)
	}
	return l, nil
}

// HasConsumed implements Store.
func (s *PostgresStore) HasConsumed(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM paygate_consumed WHERE tx_hash = $1)`,
		txHash,
	).Scan(&exists)
	if err != nil {
		return false, types.PersistenceError("postgres: checking consumed set", err)
	}
	return exists, nil
}

// MarkConsumed implements Store.
func (s *PostgresStore) MarkConsumed(ctx context.Context, txHash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO paygate_consumed (tx_hash, session_id) VALUES ($1, '')
		ON CONFLICT DO NOTHING`,
		txHash,
	)
	if err != nil {
		return types.PersistenceError("postgres: marking consumed", err)
	}
	return nil
}

// Credits implements Store.
func (s *PostgresStore) Credits(ctx context.Context, sessionID string) (int64, error) {
	var frames int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT frames FROM paygate_credits WHERE session_id = $1), 0)`,
		sessionID,
	).Scan(&frames)
	if err != nil {
		return 0, types.PersistenceError("postgres: reading credits", err)
	}
	return frames, nil
}

// GrantCredits implements Store.
func (s *PostgresStore) GrantCredits(ctx context.Context, sessionID string, frames int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO paygate_credits (session_id, frames) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET frames = paygate_credits.frames + EXCLUDED.frames`,
		sessionID, frames,
	)
	if err != nil {
		return types.PersistenceError("postgres: granting credits", err)
	}
	return nil
}

// ConsumeCredit implements Store. The conditional UPDATE is the
// check-and-decrement, so two concurrent consumers can never drive a
// balance negative.
func (s *PostgresStore) ConsumeCredit(ctx context.Context, sessionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE paygate_credits SET frames = frames - 1 WHERE session_id = $1 AND frames > 0`,
		sessionID,
	)
	if err != nil {
		return false, types.PersistenceError("postgres: consuming credit", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Redeem implements Store.
func (s *PostgresStore) Redeem(ctx context.Context, txHash, sessionID string, frames int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.PersistenceError("postgres: begin redeem", err)
	}
	defer tx.Rollback(ctx)

	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO paygate_consumed (tx_hash, session_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING RETURNING true`,
		txHash, sessionID,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReplayError()
	}
	if err != nil {
		return types.PersistenceError("postgres: marking consumed", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO paygate_credits (session_id, frames) VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET frames = paygate_credits.frames + EXCLUDED.frames`,
		sessionID, frames,
	)
	if err != nil {
		return types.PersistenceError("postgres: granting credits", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return types.PersistenceError("postgres: commit redeem", err)
	}
	return nil
}
