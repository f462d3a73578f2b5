//go:build integration

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dues/internal/payment/lock"
	"dues/internal/platform/config"
	"dues/pkg/platform/sentinel"
	"dues/pkg/testutil/containers"
)

func redisSettings() config.LockSettings {
	return config.LockSettings{
		Attempts:       2,
		PerAttemptWait: 100 * time.Millisecond,
		BackoffStep:    20 * time.Millisecond,
		TTL:            2 * time.Second,
	}
}

func TestRedisManager(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		m := lock.NewRedisManager(rc.Client, redisSettings())

		release, err := m.Acquire(ctx, lock.StudentKey("stu-1"))
		require.NoError(t, err)
		release()

		release2, err := m.Acquire(ctx, lock.StudentKey("stu-1"))
		require.NoError(t, err)
		release2()
	})

	t.Run("held lock exhausts another manager's budget", func(t *testing.T) {
		m1 := lock.NewRedisManager(rc.Client, redisSettings())
		m2 := lock.NewRedisManager(rc.Client, redisSettings())

		release, err := m1.Acquire(ctx, lock.StudentKey("stu-2"))
		require.NoError(t, err)
		defer release()

		_, err = m2.Acquire(ctx, lock.StudentKey("stu-2"))
		assert.ErrorIs(t, err, sentinel.ErrNotAcquired)
	})

	t.Run("release frees the lock for other processes", func(t *testing.T) {
		m1 := lock.NewRedisManager(rc.Client, redisSettings())
		m2 := lock.NewRedisManager(rc.Client, redisSettings())

		release, err := m1.Acquire(ctx, lock.StudentKey("stu-3"))
		require.NoError(t, err)
		release()

		release2, err := m2.Acquire(ctx, lock.StudentKey("stu-3"))
		require.NoError(t, err)
		release2()
	})

	t.Run("ttl expiry frees an abandoned lock", func(t *testing.T) {
		short := redisSettings()
		short.TTL = 200 * time.Millisecond
		m1 := lock.NewRedisManager(rc.Client, short)
		m2 := lock.NewRedisManager(rc.Client, redisSettings())

		_, err := m1.Acquire(ctx, lock.StudentKey("stu-4"))
		require.NoError(t, err)
		// Never released; TTL must clear it.

		time.Sleep(300 * time.Millisecond)

		release, err := m2.Acquire(ctx, lock.StudentKey("stu-4"))
		require.NoError(t, err)
		release()
	})
}
