/*
Package lock provides advisory per-subject locks.

PURPOSE:
  Two concurrent operations on the same item or partner would both read
  the same "latest" balance and append entries that collide. Locks taken
  before the store scope opens serialize writers per subject:

    coordinator: keys := subjects touched by the operation
                 release, err := locker.Acquire(ctx, keys...)
                 store.WithTx(...)
                 release(ctx)

ORDERING:
  Acquire sorts and de-duplicates keys before taking them, so two
  operations touching overlapping subjects cannot deadlock.

IMPLEMENTATIONS:
  - Local: in-process keyed mutexes, single server
  - Redis: bsm/redislock, shared across server replicas

SEE ALSO:
  - coordinator/coordinator.go: the only caller
*/
package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/warp/stock-ledger/generic"
)

// Release frees every key an Acquire call obtained.
type Release func(ctx context.Context) error

// Locker obtains a set of keys atomically with respect to other Lockers
// sharing the same backend.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

// SubjectKey is the lock key for a ledger subject.
func SubjectKey(s generic.Subject) string {
	return fmt.Sprintf("ledger:%s:%s:%s", s.Tenant, s.Kind, s.ID)
}

// AccountKey is the lock key for a money account balance.
func AccountKey(tenant generic.TenantID, accountID string) string {
	return fmt.Sprintf("account:%s:%s", tenant, accountID)
}

// Keys maps subjects to their lock keys.
func Keys(subjects ...generic.Subject) []string {
	keys := make([]string, 0, len(subjects))
	for _, s := range subjects {
		keys = append(keys, SubjectKey(s))
	}
	return keys
}

func normalize(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

// =============================================================================
// LOCAL - in-process keyed mutexes
// =============================================================================

type Local struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localLock)}
}

func (l *Local) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		ll := l.ref(k)
		select {
		case ll.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			l.unref(k)
			l.release(held)
			return nil, fmt.Errorf("%w: %s: %v", generic.ErrLockNotObtained, k, ctx.Err())
		}
	}
	return func(context.Context) error {
		l.release(held)
		return nil
	}, nil
}

// Held reports how many keys are currently referenced. Tests only.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *Local) ref(k string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll, ok := l.locks[k]
	if !ok {
		ll = &localLock{ch: make(chan struct{}, 1)}
		l.locks[k] = ll
	}
	ll.refs++
	return ll
}

func (l *Local) unref(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll := l.locks[k]
	ll.refs--
	if ll.refs == 0 {
		delete(l.locks, k)
	}
}

func (l *Local) release(held []string) {
	for i := len(held) - 1; i >= 0; i-- {
		l.mu.Lock()
		ll := l.locks[held[i]]
		l.mu.Unlock()
		<-ll.ch
		l.unref(held[i])
	}
}

// =============================================================================
// NOOP
// =============================================================================

// Noop never blocks. Useful for single-goroutine tools.
type Noop struct{}

func (Noop) Acquire(context.Context, ...string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}
