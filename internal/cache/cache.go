package cache

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/lifecycle"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/submission"
)

// setIfNewer stores a status only when its version is higher than the cached
// one, so out-of-order writers never roll a status back.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'status', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// StatusCache keeps the latest status of every submission for polling
// clients.
type StatusCache interface {
	// Put stores st unless a status with the same or a higher version is
	// already cached. It reports whether st was stored.
	Put(ctx context.Context, st submission.Status) (bool, error)
	// Get returns errors.ErrNotFound on a cache miss.
	Get(ctx context.Context, id string) (submission.Status, error)
	lifecycle.Observer
}

type redisStatusCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.SugaredLogger
}

func NewStatusCache(client redis.UniversalClient, ttl time.Duration) StatusCache {
	return &redisStatusCache{
		client: client,
		ttl:    ttl,
		logger: logger.NewNamedLogger("statusCache"),
	}
}

func key(id string) string {
	return constants.StatusKeyPrefix + id
}

func (c *redisStatusCache) Put(ctx context.Context, st submission.Status) (bool, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("marshal status: %w", err)
	}
	stored, err := setIfNewer.Run(ctx, c.client, []string{key(st.SubmissionID)},
		st.Version, payload, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *redisStatusCache) Get(ctx context.Context, id string) (submission.Status, error) {
	raw, err := c.client.HGet(ctx, key(id), "status").Bytes()
	if stdErrors.Is(err, redis.Nil) {
		return submission.Status{}, errors.ErrNotFound
	}
	if err != nil {
		return submission.Status{}, err
	}
	var st submission.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return submission.Status{}, fmt.Errorf("unmarshal status: %w", err)
	}
	return st, nil
}

func (c *redisStatusCache) OnTransition(ctx context.Context, t lifecycle.Transition) {
	st := submission.StatusOf(t.Submission)
	if _, err := c.Put(ctx, st); err != nil {
		c.logger.Errorf("Failed to cache status %s: %s [SubID: %s]", st.State, err, st.SubmissionID)
	}
}
