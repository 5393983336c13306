package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glazyr/paygate/types"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)
	return store
}

func TestFileStoreMissingFileIsEmptyLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	l, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, l.ConsumedTxs)
	assert.Empty(t, l.Credits)

	credits, err := store.Credits(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), credits)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Redeem(ctx, "0xabc", "session-1", 2500))

	// A second store over the same file sees the persisted state.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	consumed, err := reopened.HasConsumed(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, consumed)

	credits, err := reopened.Credits(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), credits)
}

func TestFileStoreOnDiskFieldNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Redeem(ctx, "0xdef", "session-2", 1000))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"processedHashes"`)
	assert.Contains(t, string(data), `"credits"`)
}

func TestFileStoreMarkConsumedIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MarkConsumed(ctx, "0xabc"))
	require.NoError(t, store.MarkConsumed(ctx, "0xabc"))

	l, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, l.ConsumedTxs)

	// A marked hash can never be redeemed.
	err = store.Redeem(ctx, "0xabc", "session-1", 1000)
	require.Error(t, err)
}

func TestFileStoreCorruptFileIsPersistenceError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)

	var gerr *types.GateError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, types.ErrPersistence, gerr.Code)
}

func TestFileStoreConsumeCredit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Nothing to consume yet.
	ok, err := store.ConsumeCredit(ctx, "session-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.GrantCredits(ctx, "session-1", 2))

	for i := 0; i < 2; i++ {
		ok, err = store.ConsumeCredit(ctx, "session-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Exhausted; balance never goes negative.
	ok, err = store.ConsumeCredit(ctx, "session-1")
	require.NoError(t, err)
	assert.False(t, ok)

	credits, err := store.Credits(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), credits)
}

func TestFileStoreRedeemRejectsReplay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Redeem(ctx, "0xabc", "session-1", 1000))

	// Same hash again, even for a different session, is a replay and must
	// not grant anything.
	err := store.Redeem(ctx, "0xabc", "session-2", 1000)
	require.Error(t, err)

	var gerr *types.GateError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, types.ErrReplayDetected, gerr.Code)

	credits, err := store.Credits(ctx, "session-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), credits)
}

func TestFileStoreConcurrentGrantsDoNotLoseUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = store.GrantCredits(ctx, "session-1", 1)
		}()
	}
	wg.Wait()

	credits, err := store.Credits(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), credits)
}

func TestFileStoreConcurrentRedeemSameHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 10
	results := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			results <- store.Redeem(ctx, "0xcontested", "session-1", 1000)
		}()
	}
	wg.Wait()
	close(results)

	var successes, replays int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var gerr *types.GateError
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, types.ErrReplayDetected, gerr.Code)
		replays++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, replays)

	// Exactly one grant landed.
	credits, err := store.Credits(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), credits)
}
