package ledger

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/glazyr/paygate/types"
)

// RedisStore is a Redis-backed ledger for multi-instance deployments.
// Replay protection rides on SADD's atomicity; credit decrements use a Lua
// script so check-and-decrement cannot interleave.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "paygate:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// NewRedisStore creates a Redis-backed ledger. The client must be connected.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "paygate:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) consumedKey() string {
	return s.keyPrefix + "consumed"
}

func (s *RedisStore) creditsKey(sessionID string) string {
	return s.keyPrefix + "credits:" + sessionID
}

// redeemScript atomically marks a hash consumed and grants credits.
// KEYS[1] = consumed set, KEYS[2] = session credits key
// ARGV[1] = tx hash, ARGV[2] = frames
// Returns -1 on replay, otherwise the new balance.
var redeemScript = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
    return -1
end
return redis.call("INCRBY", KEYS[2], tonumber(ARGV[2]))
`)

// consumeScript decrements a balance only when positive.
// KEYS[1] = session credits key
// Returns 1 when a credit was consumed, 0 otherwise.
var consumeScript = redis.NewScript(`
local bal = tonumber(redis.call("GET", KEYS[1]) or "0")
if bal <= 0 then
    return 0
end
redis.call("DECR", KEYS[1])
return 1
`)

// Load implements Store. It scans the credit keys, so it is meant for
// status endpoints and tooling, not the request path.
func (s *RedisStore) Load(ctx context.Context) (*types.Ledger, error) {
	l := types.NewLedger()

	hashes, err := s.client.SMembers(ctx, s.consumedKey()).Result()
	if err != nil {
		return nil, types.PersistenceError("redis: loading consumed set", err)
	}
	l.ConsumedTxs = hashes

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"credits:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, types.PersistenceError("redis: loading credits", err)
		}
		frames, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		l.Credits[strings.TrimPrefix(key, s.keyPrefix+"credits:")] = frames
	}
	if err := iter.Err(); err != nil {
		return nil, types.PersistenceError("redis: scanning credits", err)
	}
	return l, nil
}

// HasConsumed implements Store.
func (s *RedisStore) HasConsumed(ctx context.Context, txHash string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.consumedKey(), txHash).Result()
	if err != nil {
		return false, types.PersistenceError("redis: checking consumed set", err)
	}
	return ok, nil
}

// MarkConsumed implements Store.
func (s *RedisStore) MarkConsumed(ctx context.Context, txHash string) error {
	if err := s.client.SAdd(ctx, s.consumedKey(), txHash).Err(); err != nil {
		return types.PersistenceError("redis: marking consumed", err)
	}
	return nil
}

// Credits implements Store.
func (s *RedisStore) Credits(ctx context.Context, sessionID string) (int64, error) {
	val, err := s.client.Get(ctx, s.creditsKey(sessionID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, types.PersistenceError("redis: reading credits", err)
	}
	frames, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, types.PersistenceError("redis: credits value is corrupt", err)
	}
	return frames, nil
}

// GrantCredits implements Store.
func (s *RedisStore) GrantCredits(ctx context.Context, sessionID string, frames int64) error {
	if err := s.client.IncrBy(ctx, s.creditsKey(sessionID), frames).Err(); err != nil {
		return types.PersistenceError("redis: granting credits", err)
	}
	return nil
}

// ConsumeCredit implements Store.
func (s *RedisStore) ConsumeCredit(ctx context.Context, sessionID string) (bool, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.creditsKey(sessionID)}).Int64()
	if err != nil {
		return false, types.PersistenceError("redis: consuming credit", err)
	}
	return res == 1, nil
}

// Redeem implements Store.
func (s *RedisStore) Redeem(ctx context.Context, txHash, sessionID string, frames int64) error {
	res, err := redeemScript.Run(ctx, s.client,
		[]string{s.consumedKey(), s.creditsKey(sessionID)},
		txHash, frames,
	).Int64()
	if err != nil {
		return types.PersistenceError("redis: redeeming transaction", err)
	}
	if res == -1 {
		return ReplayError()
	}
	return nil
}
