package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldFailures     = "failures"
	fieldBlockedUntil = "blocked_until"
)

// RedisStore keeps one hash per identifier so several server processes can
// share lockout state. Keys expire after ttl of inactivity.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "login_attempts"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	values, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("redis hgetall: %w", err)
	}

	var rec Record
	if v, ok := values[fieldFailures]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Record{}, fmt.Errorf("parse failures: %w", err)
		}
		rec.Failures = n
	}
	if v, ok := values[fieldBlockedUntil]; ok {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("parse blocked_until: %w", err)
		}
		rec.BlockedUntil = time.Unix(0, ns)
	}
	return rec, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int, error) {
	k := s.key(key)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, k, fieldFailures, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis hincrby: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) Block(ctx context.Context, key string, until time.Time) error {
	k := s.key(key)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldBlockedUntil, strconv.FormatInt(until.UnixNano(), 10))
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
