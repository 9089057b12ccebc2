package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// Daily keys only need to survive the UTC day they belong to; 48h covers
// reads shortly after rollover.
const redisKeyTTL = 48 * time.Hour

// Counters are stored as integer micro-USD so redis INCRBY stays exact;
// floats never touch the money path.
const redisAmountDecimals = 6

// RedisStore keeps daily-spend counters in redis. INCRBY gives atomic
// read-modify-write per key, so concurrent settlements for the same
// address never lose an update.
type RedisStore struct {
	rc *redis.Client
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(rc *redis.Client) *RedisStore {
	return &RedisStore{rc: rc}
}

func (s *RedisStore) Get(ctx context.Context, key string) (decimal.Decimal, error) {
	raw, err := s.rc.Get(ctx, key).Result()
	if err == redis.Nil {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return fromAtomicUnits(raw)
}

func (s *RedisStore) Set(ctx context.Context, key string, amount decimal.Decimal) error {
	return s.rc.Set(ctx, key, strconv.FormatInt(toAtomicUnits(amount), 10), redisKeyTTL).Err()
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta decimal.Decimal) (decimal.Decimal, error) {
	pipe := s.rc.TxPipeline()
	incr := pipe.IncrBy(ctx, key, toAtomicUnits(delta))
	pipe.Expire(ctx, key, redisKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return decimal.Zero, err
	}
	return decimal.New(incr.Val(), -redisAmountDecimals), nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.rc.Close()
}

// toAtomicUnits converts a decimal USD amount to integer micro-USD,
// truncating below the stored precision.
func toAtomicUnits(v decimal.Decimal) int64 {
	return v.Shift(redisAmountDecimals).Truncate(0).IntPart()
}

// fromAtomicUnits parses a stored integer counter back to decimal USD.
func fromAtomicUnits(raw string) (decimal.Decimal, error) {
	n, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return n.Shift(-redisAmountDecimals), nil
}
