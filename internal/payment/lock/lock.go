// Package lock serializes critical sections per logical resource key. The
// recorder takes a per-student lock around eligibility re-checks and the
// ledger append; batch operations take a per-section lock. Exhausting the
// retry budget returns sentinel.ErrNotAcquired rather than an unbounded wait
// so callers can answer "system busy".
package lock

import (
	"context"
	"sync"
	"time"

	"dues/internal/platform/config"
	"dues/pkg/platform/sentinel"
)

// ReleaseFunc frees a held lock. Safe to call more than once; callers defer
// it so every exit path releases.
type ReleaseFunc func()

// Manager acquires an exclusive lock scoped to a resource key. A nil release
// is only returned together with an error.
type Manager interface {
	Acquire(ctx context.Context, key string) (ReleaseFunc, error)
}

// StudentKey is the lock key for payment recording.
func StudentKey(studentID string) string { return "student:" + studentID }

// SectionKey is the lock key for section batch operations.
func SectionKey(sectionID string) string { return "section:" + sectionID }

// KeyedMutex is the in-process Manager: a map of per-key single-slot channels
// with bounded waits and attempt-indexed backoff. Suitable for single-node
// deployments and tests; multi-process deployments use RedisManager.
type KeyedMutex struct {
	settings config.LockSettings

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex(settings config.LockSettings) *KeyedMutex {
	return &KeyedMutex{
		settings: settings,
		slots:    make(map[string]*slot),
	}
}

// checkout registers interest in a key so the slot is not collected while a
// waiter exists.
func (m *KeyedMutex) checkout(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *KeyedMutex) checkin(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[key]
	if s == nil {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(m.slots, key)
	}
}

// Acquire tries up to the configured number of attempts, each blocking for at
// most the per-attempt wait, sleeping an attempt-indexed backoff between
// tries. Worst-case stall is attempts × perAttemptWait plus backoff sleeps.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	s := m.checkout(key)

	for attempt := 0; attempt < m.settings.Attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * m.settings.BackoffStep
			select {
			case <-ctx.Done():
				m.checkin(key)
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		timer := time.NewTimer(m.settings.PerAttemptWait)
		select {
		case s.ch <- struct{}{}:
			timer.Stop()
			var once sync.Once
			return func() {
				once.Do(func() {
					<-s.ch
					m.checkin(key)
				})
			}, nil
		case <-ctx.Done():
			timer.Stop()
			m.checkin(key)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	m.checkin(key)
	return nil, sentinel.ErrNotAcquired
}
