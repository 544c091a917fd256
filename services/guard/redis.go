// Package guard implements the expiry scanner's run lock and notice markers.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/subscription"
)

const (
	lockKey      = "elimu:subscriptions:scan-lock"
	noticePrefix = "elimu:subscriptions:notice"
)

// release deletes the lock only if it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisGuard struct {
	client *redis.Client
	logger core.Logger
}

var _ subscription.Guard = (*RedisGuard)(nil)

func NewRedisClient(conf *core.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
}

func NewRedisGuard(client *redis.Client, logger core.Logger) *RedisGuard {
	return &RedisGuard{client: client, logger: logger}
}

func (g *RedisGuard) Lock(ctx context.Context, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	token := uuid.New().String()
	ok, err := g.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "acquiring scan lock")
	}
	if !ok {
		return nil, subscription.ErrScanInProgress
	}

	return func() {
		// the caller's ctx may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release.Run(ctx, g.client, []string{lockKey}, token).Err(); err != nil {
			g.logger.Warn("releasing scan lock", err)
		}
	}, nil
}

func (g *RedisGuard) MarkNotified(ctx context.Context, subscriptionID string, days int, now time.Time) (bool, error) {
	now = now.UTC()
	key := noticeKey(subscriptionID, days, now)
	endOfDay := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	ok, err := g.client.SetNX(ctx, key, now.Unix(), endOfDay.Sub(now)).Result()
	if err != nil {
		return false, errors.Wrap(err, "marking expiry notice")
	}
	return ok, nil
}

func noticeKey(subscriptionID string, days int, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d:%s", noticePrefix, subscriptionID, days, now.Format("2006-01-02"))
}
