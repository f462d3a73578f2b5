package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dues/internal/platform/config"
	"dues/pkg/platform/sentinel"
)

const keyPrefix = "dues:lock:"

// releaseScript deletes the lock only when the stored token matches, so a
// slow holder cannot release a lock reacquired by someone else after TTL
// expiry.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisManager implements Manager on Redis SET NX PX for multi-process
// deployments. The TTL bounds how long a crashed holder can block others.
type RedisManager struct {
	client   *redis.Client
	settings config.LockSettings
	// pollInterval spaces SET NX probes within one attempt's wait budget.
	pollInterval time.Duration
}

func NewRedisManager(client *redis.Client, settings config.LockSettings) *RedisManager {
	return &RedisManager{
		client:       client,
		settings:     settings,
		pollInterval: 50 * time.Millisecond,
	}
}

func (m *RedisManager) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	redisKey := keyPrefix + key
	token := uuid.New().String()

	for attempt := 0; attempt < m.settings.Attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * m.settings.BackoffStep
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		release, acquired, err := m.tryAttempt(ctx, redisKey, token)
		if err != nil {
			return nil, err
		}
		if acquired {
			return release, nil
		}
	}

	return nil, sentinel.ErrNotAcquired
}

// tryAttempt probes SET NX until the per-attempt wait elapses.
func (m *RedisManager) tryAttempt(ctx context.Context, redisKey, token string) (ReleaseFunc, bool, error) {
	deadline := time.Now().Add(m.settings.PerAttemptWait)
	for {
		ok, err := m.client.SetNX(ctx, redisKey, token, m.settings.TTL).Result()
		if err != nil {
			return nil, false, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release must still run when the request context is
					// already canceled.
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, m.client, []string{redisKey}, token).Err()
				})
			}, true, nil
		}

		if time.Now().Add(m.pollInterval).After(deadline) {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}
