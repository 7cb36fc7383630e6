package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func rateKey(scope, subject string, window time.Duration, now time.Time) string {
	bucket := now.Unix() / int64(window/time.Second)
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, subject, bucket)
}

// Allow is a fixed-window counter: at most limit hits per subject per window.
// It returns the hits seen in the current window including this one.
func (s *Store) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, int64, error) {
	if window < time.Second {
		window = time.Second
	}
	key := rateKey(scope, subject, window, time.Now())

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// +1s so the key outlives its bucket boundary
	pipe.Expire(ctx, key, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	n := incr.Val()
	return n <= int64(limit), n, nil
}
