package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"triptrack/internal/apperr"
)

// maxTxAttempts bounds optimistic retries of Mutate
const maxTxAttempts = 5

// ScoredMember is one sorted-set member with its score
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the typed cache adapter every runtime component is built on.
// Values are JSON encoded. All errors carry the Redis subsystem tag.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// GetOrSet returns the cached value or stores the result of load
	GetOrSet(ctx context.Context, key string, dest any, ttl time.Duration, load func(ctx context.Context) (any, error)) error

	// Mutate reads key into dest, runs fn and writes dest back when fn asks
	// for it. The write is aborted and retried if key changed meanwhile.
	Mutate(ctx context.Context, key string, dest any, ttl time.Duration, fn func(exists bool) (bool, error)) error

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key, member string) (int64, error)
	ZRevRangeAll(ctx context.Context, key string) ([]ScoredMember, error)
	ZRevRank(ctx context.Context, key, member string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

type redisStore struct {
	client *redis.Client
}

// NewStore wraps an already connected client
func NewStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

// ConnectOptions configures Connect
type ConnectOptions struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int
	Backoff    time.Duration
}

// Connect dials Redis and pings it with bounded exponential backoff
func Connect(ctx context.Context, opts ConnectOptions, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MinIdleConns:    5,
		MaxRetries:      3,
		MinRetryBackoff: opts.Backoff,
		MaxRetryBackoff: 2 * time.Second,
	})

	exp := backoff.NewExponentialBackOff()
	if opts.Backoff > 0 {
		exp.InitialInterval = opts.Backoff
	}
	exp.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(opts.MaxRetries)), ctx)

	err := backoff.RetryNotify(func() error {
		return client.Ping(ctx).Err()
	}, policy, func(err error, wait time.Duration) {
		log.Warn("redis not reachable, retrying", zap.String("addr", opts.Addr), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		_ = client.Close()
		return nil, apperr.Wrap(apperr.SubsystemRedis, err, "redis connection failed")
	}
	return client, nil
}

func wrap(err error, msg string) error {
	return apperr.Wrap(apperr.SubsystemRedis, err, msg)
}

func (s *redisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, wrap(err, "get "+key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, wrap(err, "decode "+key)
	}
	return true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return wrap(err, "encode "+key)
	}
	return wrap(s.client.Set(ctx, key, data, ttl).Err(), "set "+key)
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap(err, "exists "+key)
	}
	return n > 0, nil
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, wrap(err, "delete keys")
	}
	return n, nil
}

func (s *redisStore) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, wrap(err, "scan "+pattern)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, wrap(err, "delete "+pattern)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap(s.client.Expire(ctx, key, ttl).Err(), "expire "+key)
}

func (s *redisStore) GetOrSet(ctx context.Context, key string, dest any, ttl time.Duration, load func(ctx context.Context) (any, error)) error {
	found, err := s.Get(ctx, key, dest)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	value, err := load(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return wrap(err, "encode "+key)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return wrap(err, "set "+key)
	}
	// Round-trip through JSON so dest looks exactly like a cache hit.
	if err := json.Unmarshal(data, dest); err != nil {
		return wrap(err, "decode "+key)
	}
	return nil
}

func (s *redisStore) Mutate(ctx context.Context, key string, dest any, ttl time.Duration, fn func(exists bool) (bool, error)) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		exists := true
		switch {
		case err == redis.Nil:
			exists = false
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, dest); err != nil {
				return err
			}
		}

		write, err := fn(exists)
		if err != nil || !write {
			return err
		}

		out, err := json.Marshal(dest)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrap(err, "mutate "+key)
	}
	return apperr.Internal(apperr.SubsystemRedis, "mutate %s: too much contention", key)
}

func (s *redisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return wrap(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(), "zadd "+key)
}

func (s *redisStore) ZRem(ctx context.Context, key, member string) (int64, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	if err != nil {
		return 0, wrap(err, "zrem "+key)
	}
	return n, nil
}

func (s *redisStore) ZRevRangeAll(ctx context.Context, key string) ([]ScoredMember, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrap(err, "zrevrange "+key)
	}
	members := make([]ScoredMember, 0, len(results))
	for _, z := range results {
		member, _ := z.Member.(string)
		members = append(members, ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

// ZRevRank returns the 0-based descending rank, or -1 when absent
func (s *redisStore) ZRevRank(ctx context.Context, key, member string) (int64, error) {
	rank, err := s.client.ZRevRank(ctx, key, member).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, wrap(err, "zrevrank "+key)
	}
	return rank, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err(), "ping")
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
