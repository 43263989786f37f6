package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix = "onboarding:retry:"
	// DefaultRedisTTL is how long an abandoned attempt is kept.
	DefaultRedisTTL = 30 * 24 * time.Hour
)

// RedisStore keeps retry records as JSON values that expire after a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
	clock  clock.Clock
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		log:    log,
		clock:  clock.New(),
	}
}

func redisKey(externalID, email string) string {
	externalID, email = NormalizeKey(externalID, email)
	return fmt.Sprintf("%s%s:%s", redisKeyPrefix, externalID, email)
}

// Put is a read-modify-write guarded by WATCH so concurrent failures of the
// same key do not lose an attempt.
func (s *RedisStore) Put(ctx context.Context, r *Record) error {
	key := redisKey(r.ExternalID, r.Email)
	now := s.clock.Now().UTC()

	txf := func(tx *redis.Tx) error {
		rec := *r
		rec.ExternalID, rec.Email = NormalizeKey(r.ExternalID, r.Email)
		rec.Attempts = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now

		prev, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if prev != nil {
			rec.Attempts = prev.Attempts + 1
			rec.CreatedAt = prev.CreatedAt
			if rec.OrganizationCode == "" {
				rec.OrganizationCode = prev.OrganizationCode
			}
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err == nil {
			s.log.Debug("Stored onboarding retry state", zap.String("key", key), zap.String("failure_kind", string(r.Kind)))
		}
		return err
	}
	return redis.TxFailedErr
}

func (s *RedisStore) Get(ctx context.Context, externalID, email string) (*Record, error) {
	return getRecord(ctx, s.client, redisKey(externalID, email))
}

func (s *RedisStore) Delete(ctx context.Context, externalID, email string) error {
	return s.client.Del(ctx, redisKey(externalID, email)).Err()
}

func getRecord(ctx context.Context, c redis.Cmdable, key string) (*Record, error) {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
