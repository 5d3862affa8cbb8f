// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package distlock

import (
	"context"
	"sync"
	"time"
)

// LocalConfig configures the in-process lock table.
type LocalConfig struct {
	TTL          time.Duration `help:"lease duration after which an unreleased lock may be taken over" default:"15m"`
	PollInterval time.Duration `help:"interval between acquisition attempts" default:"100ms"`
}

// Local is an in-process lease table. Leases expire after TTL so a lock whose
// owner never released it can be reclaimed.
type Local struct {
	config LocalConfig
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]localLease
}

type localLease struct {
	lock    Lock
	expires time.Time
}

// NewLocal returns a new in-process lock table.
func NewLocal(config LocalConfig) *Local {
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	return &Local{
		config: config,
		now:    time.Now,
		locks:  map[string]localLease{},
	}
}

// SetClock replaces the time source, used by tests to expire leases.
func (local *Local) SetClock(now func() time.Time) {
	local.mu.Lock()
	defer local.mu.Unlock()
	local.now = now
}

// Acquire waits up to timeout for the named lock.
func (local *Local) Acquire(ctx context.Context, name, owner, reason string, timeout time.Duration) (_ *Lock, err error) {
	defer mon.Task()(&ctx)(&err)

	return Poll(ctx, name, timeout, local.config.PollInterval, func(ctx context.Context) (*Lock, error) {
		return local.try(name, owner, reason)
	})
}

func (local *Local) try(name, owner, reason string) (*Lock, error) {
	local.mu.Lock()
	defer local.mu.Unlock()

	now := local.now()
	if held, ok := local.locks[name]; ok {
		if local.config.TTL <= 0 || now.Before(held.expires) {
			return nil, ErrConflict.New("%s", held.lock.String())
		}
	}

	lock := Lock{
		Name:     name,
		Owner:    owner,
		Reason:   reason,
		Token:    NewToken(),
		Acquired: now,
	}
	local.locks[name] = localLease{
		lock:    lock,
		expires: now.Add(local.config.TTL),
	}
	return &lock, nil
}

// Release releases the lock when it is still held by the handle.
func (local *Local) Release(ctx context.Context, lock *Lock) (err error) {
	defer mon.Task()(&ctx)(&err)

	local.mu.Lock()
	defer local.mu.Unlock()

	held, ok := local.locks[lock.Name]
	if !ok || held.lock.Token != lock.Token {
		return ErrNotHeld.New("%q", lock.Name)
	}
	delete(local.locks, lock.Name)
	return nil
}

// Holder returns the current holder of the named lock, if any.
func (local *Local) Holder(name string) (Lock, bool) {
	local.mu.Lock()
	defer local.mu.Unlock()

	held, ok := local.locks[name]
	if !ok || (local.config.TTL > 0 && !local.now().Before(held.expires)) {
		return Lock{}, false
	}
	return held.lock, true
}
