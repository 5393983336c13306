package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerConsumeNeverGoesNegative(t *testing.T) {
	l := NewLedger()
	assert.False(t, l.ConsumeOne("s1"))

	l.Grant("s1", 1)
	assert.True(t, l.ConsumeOne("s1"))
	assert.False(t, l.ConsumeOne("s1"))
	assert.Equal(t, int64(0), l.CreditsFor("s1"))
}

func TestLedgerMarkConsumedIsIdempotent(t *testing.T) {
	l := NewLedger()
	l.MarkConsumed("0xabc")
	l.MarkConsumed("0xabc")
	assert.Len(t, l.ConsumedTxs, 1)
	assert.True(t, l.HasConsumed("0xabc"))
	assert.False(t, l.HasConsumed("0xdef"))
}

func TestLedgerJSONFieldNames(t *testing.T) {
	l := NewLedger()
	l.MarkConsumed("0xabc")
	l.Grant("s1", 10)

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.JSONEq(t, `{"processedHashes":["0xabc"],"credits":{"s1":10}}`, string(data))
}

func TestGateErrorUnwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := PersistenceError("saving ledger", inner)

	assert.Equal(t, "saving ledger", err.Error())
	assert.Equal(t, ErrPersistence, err.Code)
	assert.True(t, errors.Is(err, inner))

	var gerr *GateError
	assert.True(t, errors.As(error(err), &gerr))
}
