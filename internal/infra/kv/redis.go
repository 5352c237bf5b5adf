package kv

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"storefront/internal/repository"
)

// RedisStore は go-redis のクライアントを包む。
type RedisStore struct {
	client *redis.Client
}

var _ repository.KeyValueStore = (*RedisStore)(nil)

// NewRedisStore は接続できるまで数回リトライする。
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		// redis:// 形式でなければ host:port とみなす
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, b); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis get %s", key)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "redis del %s", key)
	}
	return nil
}

// WATCH で競合したときの再試行回数
const maxUpdateRetries = 20

// ErrUpdateConflict は再試行しても競合が解けなかったとき
var ErrUpdateConflict = errors.New("kv update conflict")

// Update は WATCH/MULTI の楽観ロックで読み込み→書き込みを行う。
// 他のクライアントが間に書き込んだらやり直す。
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(cur string, found bool) (string, error)) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		found := true
		if err == redis.Nil {
			cur, found = "", false
		} else if err != nil {
			return errors.Wrapf(err, "redis get %s", key)
		}

		next, err := fn(cur, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == "" {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return errors.Wrapf(ErrUpdateConflict, "redis update %s", key)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
