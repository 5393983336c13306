package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glazyr/paygate/types"
)

// newPostgresTestStore connects to the database named by
// PAYGATE_TEST_DATABASE_URL, skipping the test when it is unset. Tables are
// truncated so each test starts clean.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("PAYGATE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYGATE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE paygate_consumed, paygate_credits`)
	require.NoError(t, err)
	return store
}

func TestPostgresStoreRedeemAndConsume(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Redeem(ctx, "0xabc", "s1", 2))

	consumed, err := store.HasConsumed(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, consumed)

	credits, err := store.Credits(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), credits)

	for i := 0; i < 2; i++ {
		ok, err := store.ConsumeCredit(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := store.ConsumeCredit(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStoreRejectsReplay(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Redeem(ctx, "0xabc", "s1", 1000))

	err := store.Redeem(ctx, "0xabc", "s2", 1000)
	require.Error(t, err)

	var gerr *types.GateError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, types.ErrReplayDetected, gerr.Code)

	credits, err := store.Credits(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), credits)
}

func TestPostgresStoreConcurrentRedeemSameHash(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			results <- store.Redeem(ctx, "0xcontested", "s1", 500)
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)

	credits, err := store.Credits(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), credits)
}
