// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package distlock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/shardcatalog/internal/testcontext"
	"storj.io/shardcatalog/pkg/distlock"
)

func TestLocalAcquireRelease(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locks := distlock.NewLocal(distlock.LocalConfig{PollInterval: time.Millisecond})

	lock, err := locks.Acquire(ctx, distlock.ShardTopology, "router-1", "addShard", 0)
	require.NoError(t, err)
	assert.Equal(t, "router-1", lock.Owner)

	_, err = locks.Acquire(ctx, distlock.ShardTopology, "router-2", "removeShard", 0)
	assert.True(t, distlock.ErrConflict.Has(err))

	_, err = locks.Acquire(ctx, distlock.ShardTopology, "router-2", "removeShard", 10*time.Millisecond)
	assert.True(t, distlock.ErrTimeout.Has(err))

	holder, ok := locks.Holder(distlock.ShardTopology)
	require.True(t, ok)
	assert.Equal(t, "addShard", holder.Reason)

	other, err := locks.Acquire(ctx, distlock.NamespaceLock("db.coll"), "router-2", "shardCollection", 0)
	require.NoError(t, err)
	require.NoError(t, locks.Release(ctx, other))

	require.NoError(t, locks.Release(ctx, lock))
	err = locks.Release(ctx, lock)
	assert.True(t, distlock.ErrNotHeld.Has(err))

	lock, err = locks.Acquire(ctx, distlock.ShardTopology, "router-2", "removeShard", 0)
	require.NoError(t, err)
	require.NoError(t, locks.Release(ctx, lock))
}

func TestLocalWaitsForRelease(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locks := distlock.NewLocal(distlock.LocalConfig{PollInterval: time.Millisecond})

	lock, err := locks.Acquire(ctx, "name", "a", "", 0)
	require.NoError(t, err)

	ctx.Go(func() error {
		time.Sleep(20 * time.Millisecond)
		return locks.Release(ctx, lock)
	})

	second, err := locks.Acquire(ctx, "name", "b", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", second.Owner)
	require.NoError(t, locks.Release(ctx, second))
}

func TestLocalStaleLease(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	now := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	locks := distlock.NewLocal(distlock.LocalConfig{TTL: time.Minute, PollInterval: time.Millisecond})
	locks.SetClock(clock)

	crashed, err := locks.Acquire(ctx, "name", "crashed", "", 0)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, "name", "new", "", 0)
	assert.True(t, distlock.ErrConflict.Has(err))

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, ok := locks.Holder("name")
	assert.False(t, ok)

	lock, err := locks.Acquire(ctx, "name", "new", "", 0)
	require.NoError(t, err)

	err = locks.Release(ctx, crashed)
	assert.True(t, distlock.ErrNotHeld.Has(err))
	require.NoError(t, locks.Release(ctx, lock))
}

func TestWithLockReleases(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locks := distlock.NewLocal(distlock.LocalConfig{})
	failure := errors.New("failure")

	err := distlock.WithLock(ctx, locks, "name", "owner", "reason", 0, func(ctx context.Context) error {
		_, ok := locks.Holder("name")
		assert.True(t, ok)
		return failure
	})
	assert.Equal(t, failure, err)

	_, ok := locks.Holder("name")
	assert.False(t, ok)

	canceled, cancel := context.WithCancel(ctx)
	err = distlock.WithLock(canceled, locks, "name", "owner", "reason", 0, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.Equal(t, context.Canceled, err)

	_, ok = locks.Holder("name")
	assert.False(t, ok)
}

func TestAcquireCanceled(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	locks := distlock.NewLocal(distlock.LocalConfig{PollInterval: time.Millisecond})
	held, err := locks.Acquire(ctx, "name", "owner", "reason", 0)
	require.NoError(t, err)

	waiting, cancel := context.WithCancel(ctx)
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = locks.Acquire(waiting, "name", "other", "reason", time.Minute)
	assert.Equal(t, context.Canceled, err)

	_, err = locks.Acquire(waiting, "free", "other", "reason", time.Minute)
	assert.Equal(t, context.Canceled, err)
	_, ok := locks.Holder("free")
	assert.False(t, ok)

	require.NoError(t, locks.Release(ctx, held))
}

func TestLockNames(t *testing.T) {
	assert.Equal(t, "database:test", distlock.DatabaseLock("TeSt"))
	assert.Equal(t, "namespace:db.Coll", distlock.NamespaceLock("db.Coll"))
}
