package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/generic"
)

func TestSubjectKey(t *testing.T) {
	key := SubjectKey(generic.InventorySubject("t1", "item-1"))
	assert.Equal(t, "ledger:t1:inventory:item-1", key)
}

func TestLocal_SerializesSameKey(t *testing.T) {
	// GIVEN: one key held by a first caller
	l := NewLocal()
	ctx := context.Background()
	release, err := l.Acquire(ctx, "a")
	require.NoError(t, err)

	// WHEN: a second caller tries with a short deadline
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "a")

	// THEN: it is refused with the lock sentinel
	assert.True(t, errors.Is(err, generic.ErrLockNotObtained))

	require.NoError(t, release(ctx))
	release, err = l.Acquire(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
	assert.Equal(t, 0, l.Held())
}

func TestLocal_OverlappingSetsDoNotDeadlock(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		keys := []string{"a", "b", "c"}
		if i%2 == 0 {
			keys = []string{"c", "b", "a", "a"}
		}
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, keys...)
			if !assert.NoError(t, err) {
				return
			}
			counter++
			_ = release(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Held())
}

func TestLocal_DisjointKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	r1, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	defer r1(ctx)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	r2, err := l.Acquire(short, "b")
	require.NoError(t, err)
	require.NoError(t, r2(ctx))
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	// GIVEN: a redis-backed locker
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	r := NewRedis(rdb, time.Minute)
	r.Retries = 2
	r.Backoff = 5 * time.Millisecond
	ctx := context.Background()

	// WHEN: keys are taken
	release, err := r.Acquire(ctx, "ledger:t1:inventory:b", "ledger:t1:inventory:a")
	require.NoError(t, err)

	// THEN: both are visible in redis and a competitor is refused
	assert.True(t, mr.Exists("ledger:t1:inventory:a"))
	assert.True(t, mr.Exists("ledger:t1:inventory:b"))

	_, err = r.Acquire(ctx, "ledger:t1:inventory:a")
	assert.True(t, errors.Is(err, generic.ErrLockNotObtained))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("ledger:t1:inventory:a"))
	assert.False(t, mr.Exists("ledger:t1:inventory:b"))
}

func TestRedis_PartialFailureReleasesHeldKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	r := NewRedis(rdb, time.Minute)
	r.Retries = 1
	r.Backoff = time.Millisecond
	ctx := context.Background()

	// GIVEN: "b" is already held
	holdB, err := r.Acquire(ctx, "b")
	require.NoError(t, err)
	defer holdB(ctx)

	// WHEN: someone wants both "a" and "b"
	_, err = r.Acquire(ctx, "a", "b")

	// THEN: they fail and do not keep "a"
	require.Error(t, err)
	assert.False(t, mr.Exists("a"))
}
