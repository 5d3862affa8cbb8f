// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package distlock implements named, owner-tagged locks used to serialize
// multi-step metadata changes.
package distlock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/internal/sync2"
)

var (
	mon = monkit.Package()

	// Error is the default distlock errs class.
	Error = errs.Class("distlock error")
	// ErrTimeout is returned when the lock could not be acquired within the wait timeout.
	ErrTimeout = errs.Class("lock timeout")
	// ErrConflict is returned by a single acquisition attempt that finds the lock held.
	ErrConflict = errs.Class("lock busy")
	// ErrNotHeld is returned when releasing a lock that is no longer held by the handle.
	ErrNotHeld = errs.Class("lock not held")
)

// Well known lock names.
const (
	// ShardTopology guards the set of shards and cluster wide upgrades.
	ShardTopology = "shard-topology"
	// AuthorizationData guards user management writes.
	AuthorizationData = "authorizationData"
)

// DatabaseLock returns the name of the lock guarding the database, ignoring case.
func DatabaseLock(db string) string { return "database:" + strings.ToLower(db) }

// NamespaceLock returns the name of the lock guarding the namespace.
func NamespaceLock(ns string) string { return "namespace:" + ns }

// Lock is a handle to an acquired lock. Handles are not transferable between processes.
type Lock struct {
	Name     string
	Owner    string
	Reason   string
	Token    string
	Acquired time.Time
}

// String implements fmt.Stringer.
func (lock *Lock) String() string {
	return fmt.Sprintf("%s held by %s (%s) since %s", lock.Name, lock.Owner, lock.Reason, lock.Acquired.Format(time.RFC3339))
}

// Locker acquires and releases named locks.
type Locker interface {
	// Acquire waits up to timeout for the named lock. A zero timeout makes a single attempt.
	Acquire(ctx context.Context, name, owner, reason string, timeout time.Duration) (*Lock, error)
	// Release releases a lock acquired with Acquire.
	Release(ctx context.Context, lock *Lock) error
}

// NewToken returns a random token identifying a single acquisition.
func NewToken() string { return uuid.New().String() }

// TryFunc makes a single acquisition attempt. It returns ErrConflict when the lock is held.
type TryFunc func(ctx context.Context) (*Lock, error)

// Poll retries try every interval until it succeeds, timeout elapses or ctx is done.
// Cancellation of ctx is returned as ctx.Err().
func Poll(ctx context.Context, name string, timeout, interval time.Duration, try TryFunc) (_ *Lock, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock, err := try(ctx)
	if err == nil || !ErrConflict.Has(err) || timeout <= 0 {
		return lock, err
	}

	waitStart := time.Now()
	defer func() { mon.FloatVal("lock_wait").Observe(time.Since(waitStart).Seconds()) }()

	deadline := waitStart.Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout.New("%q after %s: %v", name, timeout, err)
		}
		if remaining > interval {
			remaining = interval
		}
		if !sync2.Sleep(ctx, remaining) {
			return nil, ctx.Err()
		}

		lock, err = try(ctx)
		if err == nil || !ErrConflict.Has(err) {
			return lock, err
		}
	}
}

// WithLock runs fn while holding the named lock. The lock is released on every
// exit path, including cancellation of ctx.
func WithLock(ctx context.Context, locker Locker, name, owner, reason string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	lock, err := locker.Acquire(ctx, name, owner, reason, timeout)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		err = errs.Combine(err, locker.Release(releaseCtx, lock))
	}()

	return fn(ctx)
}

// releaseTimeout bounds the detached release.
const releaseTimeout = 30 * time.Second
