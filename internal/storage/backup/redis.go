// Package backup implements the backup generations of the balance cache.
// The current generation lives in Redis; the legacy generations are the
// LevelDB and JSON-file layouts used by earlier releases.
package backup

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/vadiminshakov/balancecache/internal/domain"
	"github.com/vadiminshakov/balancecache/internal/storage"
)

const (
	redisKeyPrefix  = "balancecache:backup:"
	defaultRedisTTL = 7 * 24 * time.Hour
)

// redisClient subset of *redis.Client used by the store.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisStore current backup generation.
type RedisStore struct {
	rdb redisClient
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore creates a store over rdb. Records expire after ttl, zero means the default week.
func NewRedisStore(rdb redisClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(accountID string) string {
	return redisKeyPrefix + accountID
}

// Read returns the backed up balances of the account.
func (s *RedisStore) Read(ctx context.Context, accountID string) (domain.BalanceReading, error) {
	payload, err := s.rdb.Get(ctx, s.key(accountID)).Bytes()
	switch {
	case err == redis.Nil:
		return domain.BalanceReading{}, domain.ErrNotFound
	case err != nil:
		return domain.BalanceReading{}, errors.Wrap(err, "redis get")
	}

	rec, err := storage.Decode(payload, accountID)
	if err != nil {
		return domain.BalanceReading{}, err
	}
	return rec.Reading(), nil
}

// Write stores the snapshot under the account key.
func (s *RedisStore) Write(ctx context.Context, accountID string, snapshot domain.BalanceSnapshot) error {
	snapshot.OwnerID = accountID
	payload, err := storage.Encode(storage.NewRecord(snapshot, s.now()))
	if err != nil {
		return err
	}

	if err := s.rdb.Set(ctx, s.key(accountID), payload, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}
