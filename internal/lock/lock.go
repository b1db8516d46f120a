// Package lock keeps two executions of the same pipeline from running at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("pipeline is already running")

// releaseScript deletes the key only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a per-pipeline lease stored in redis, owned by an execution id.
type RunLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *RunLock {
	return &RunLock{rdb: rdb, ttl: ttl}
}

func key(pipeline string) string {
	return "dataflow:run-lock:" + pipeline
}

// Acquire takes the lock for executionID. Re-acquiring with the same owner
// succeeds and refreshes the lease, which makes task redelivery harmless.
func (l *RunLock) Acquire(ctx context.Context, pipeline string, executionID uint) error {
	owner := strconv.FormatUint(uint64(executionID), 10)
	ok, err := l.rdb.SetNX(ctx, key(pipeline), owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock: acquire %s: %w", pipeline, err)
	}
	if ok {
		return nil
	}
	current, err := l.rdb.Get(ctx, key(pipeline)).Result()
	if errors.Is(err, redis.Nil) {
		return l.Acquire(ctx, pipeline, executionID)
	}
	if err != nil {
		return fmt.Errorf("lock: acquire %s: %w", pipeline, err)
	}
	if current != owner {
		return fmt.Errorf("%w: held by execution %s", ErrHeld, current)
	}
	return l.rdb.Expire(ctx, key(pipeline), l.ttl).Err()
}

// Release drops the lock if executionID still owns it.
func (l *RunLock) Release(ctx context.Context, pipeline string, executionID uint) error {
	owner := strconv.FormatUint(uint64(executionID), 10)
	if err := releaseScript.Run(ctx, l.rdb, []string{key(pipeline)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: release %s: %w", pipeline, err)
	}
	return nil
}

// Owner returns the execution holding the lock, or 0.
func (l *RunLock) Owner(ctx context.Context, pipeline string) (uint, error) {
	current, err := l.rdb.Get(ctx, key(pipeline)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(current, 10, 64)
	return uint(id), err
}
