// Package store is the State Store Adapter (spec §4.1): a narrow typed
// wrapper over the external key/value store. Every operation returns a
// plain Go error wrapping corerr.ErrStore on failure — nothing crosses
// this boundary as a panic.
package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/adred-codev/pulse/internal/corerr"
	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is the narrow surface every component above the adapter is
// built against. A FakeStore in store_fake.go satisfies the same
// interface for unit tests.
type Store interface {
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	GetInt(ctx context.Context, key string) (value int64, present bool, err error)
	Set(ctx context.Context, key, value string) error
	SetNX(ctx context.Context, key, value string, ttlSeconds int64) (bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttlSeconds int64) error
	Delete(ctx context.Context, key string) error
	SetAdd(ctx context.Context, key, member string) (added bool, err error)
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SortedAdd(ctx context.Context, key string, score float64, member string) error
	SortedRangeByScore(ctx context.Context, key string, min, max string) ([]string, error)
	SortedRemoveByScore(ctx context.Context, key string, min, max string) error
	Ping(ctx context.Context) error
}

// RedisStore implements Store over github.com/redis/go-redis/v9.
//
// Connection dispatch is left to go-redis's own pool: it already
// multiplexes calls across PoolSize connections without per-key
// affinity, which is exactly the "uniform random draw per call"
// behavior spec §4.1 asks for. No extra selection layer is added.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// Config configures a RedisStore.
type Config struct {
	URL      string
	PoolSize int
	Logger   zerolog.Logger
}

// New connects to Redis and returns a RedisStore.
func New(cfg Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, corerr.Wrap(corerr.ErrStore, "parse redis url: "+err.Error())
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	return &RedisStore{
		client: client,
		logger: cfg.Logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) storeErr(op string, err error) error {
	s.logger.Warn().Err(err).Str("op", op).Msg("store operation failed")
	metrics.RecordStoreError(op)
	return corerr.Wrap(corerr.ErrStore, op+": "+err.Error())
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, s.storeErr("incr", err)
	}
	return v, nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, s.storeErr("decr", err)
	}
	return v, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, s.storeErr("incr_by", err)
	}
	return v, nil
}

// GetInt tolerates a missing key (returns present=false, not zero) and
// a non-numeric value (returns present=false and logs a warning).
// Callers supply a zero default at the call site.
func (s *RedisStore) GetInt(ctx context.Context, key string) (int64, bool, error) {
	str, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, s.storeErr("get_int", err)
	}

	v, convErr := strconv.ParseInt(str, 10, 64)
	if convErr != nil {
		s.logger.Warn().Str("key", key).Str("value", str).Msg("get_int: non-numeric value, treating as absent")
		return 0, false, nil
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return s.storeErr("set", err)
	}
	return nil
}

// SetNX sets key to value only if absent, with an optional TTL. Used by
// the leader elector for lease acquisition.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttlSeconds int64) (bool, error) {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, s.storeErr("set_nx", err)
	}
	return ok, nil
}

// SetWithTTL unconditionally writes key to value with a fresh TTL —
// SET key value PX ttl in Redis terms. Unlike Set, it never strips an
// existing expiration, making it the correct primitive for renewing a
// held lease (spec §4.5/§9: single-leader election must not leave a
// stale lease key behind a crashed holder forever).
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttlSeconds int64) error {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return s.storeErr("set_with_ttl", err)
	}
	return nil
}

// Delete removes key outright. Used to release a held lease on
// graceful shutdown instead of waiting out its TTL.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return s.storeErr("delete", err)
	}
	return nil
}

func (s *RedisStore) SetAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, s.storeErr("set_add", err)
	}
	return n == 1, nil
}

// SetRemove drops member from key, used to prune a stale node ID out of
// the active-nodes set once its heartbeat key has expired.
func (s *RedisStore) SetRemove(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return s.storeErr("set_remove", err)
	}
	return nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, s.storeErr("set_members", err)
	}
	return members, nil
}

func (s *RedisStore) SortedAdd(ctx context.Context, key string, score float64, member string) error {
	err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	if err != nil {
		return s.storeErr("sorted_add", err)
	}
	return nil
}

func (s *RedisStore) SortedRangeByScore(ctx context.Context, key string, min, max string) ([]string, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, s.storeErr("sorted_range_by_score", err)
	}
	return members, nil
}

func (s *RedisStore) SortedRemoveByScore(ctx context.Context, key string, min, max string) error {
	if err := s.client.ZRemRangeByScore(ctx, key, min, max).Err(); err != nil {
		return s.storeErr("sorted_remove_by_score", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.storeErr("ping", err)
	}
	return nil
}

// InitCounters sets concurrent_connections, total_connection_seconds
// and peak_connections to "0" only if absent, per spec §4.1's
// initialization contract. The read-then-set is intentionally
// non-atomic — startup is pre-traffic.
func InitCounters(ctx context.Context, s Store, keys ...string) error {
	for _, key := range keys {
		_, present, err := s.GetInt(ctx, key)
		if err != nil {
			return err
		}
		if !present {
			if err := s.Set(ctx, key, "0"); err != nil {
				return err
			}
		}
	}
	return nil
}
