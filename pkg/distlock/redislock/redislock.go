// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redislock implements distlock.Locker with leases stored in redis.
package redislock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/internal/sync2"
	"storj.io/shardcatalog/pkg/distlock"
)

var (
	mon = monkit.Package()

	// Error is the redislock error class.
	Error = errs.Class("redislock error")
)

const keyPrefix = "catalog:lock:"

// Config configures redis locks.
type Config struct {
	Address      string        `help:"redis address holding the locks" default:"127.0.0.1:6379"`
	Password     string        `help:"redis password" default:""`
	DB           int           `help:"redis database number" default:"0"`
	TTL          time.Duration `help:"lease duration, refreshed while the lock is held" default:"30s"`
	PollInterval time.Duration `help:"interval between acquisition attempts" default:"100ms"`
}

// Locker keeps every lock as a redis key with an expiring lease. A holder
// refreshes its lease every TTL/3, so a crashed holder loses the lock after TTL.
type Locker struct {
	log    *zap.Logger
	client *redis.Client
	config Config

	mu       sync.Mutex
	refresh  map[string]*sync2.Cycle
	finished sync.WaitGroup
}

// lease is the value stored under the lock key.
type lease struct {
	Owner    string    `json:"owner"`
	Reason   string    `json:"reason"`
	Token    string    `json:"token"`
	Acquired time.Time `json:"acquired"`
}

// New connects to redis using config.
func New(log *zap.Logger, config Config) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, errs.Combine(Error.New("ping failed: %v", err), client.Close())
	}
	return NewWithClient(log, client, config), nil
}

// NewWithClient returns a locker using an existing client.
func NewWithClient(log *zap.Logger, client *redis.Client, config Config) *Locker {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	return &Locker{
		log:     log,
		client:  client,
		config:  config,
		refresh: map[string]*sync2.Cycle{},
	}
}

// Close stops lease refreshing and closes the client. Held locks expire after TTL.
func (locker *Locker) Close() error {
	locker.mu.Lock()
	for token, cycle := range locker.refresh {
		cycle.Stop()
		delete(locker.refresh, token)
	}
	locker.mu.Unlock()

	locker.finished.Wait()
	return Error.Wrap(locker.client.Close())
}

// Acquire waits up to timeout for the named lock.
func (locker *Locker) Acquire(ctx context.Context, name, owner, reason string, timeout time.Duration) (_ *distlock.Lock, err error) {
	defer mon.Task()(&ctx)(&err)

	lock, err := distlock.Poll(ctx, name, timeout, locker.config.PollInterval, func(ctx context.Context) (*distlock.Lock, error) {
		return locker.try(ctx, name, owner, reason)
	})
	if err != nil {
		return nil, err
	}

	locker.startRefresh(lock)
	return lock, nil
}

func (locker *Locker) try(ctx context.Context, name, owner, reason string) (*distlock.Lock, error) {
	value := lease{
		Owner:    owner,
		Reason:   reason,
		Token:    distlock.NewToken(),
		Acquired: time.Now().UTC(),
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	client := locker.client.WithContext(ctx)
	ok, err := client.SetNX(keyPrefix+name, data, locker.config.TTL).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !ok {
		holder, err := locker.holder(ctx, name)
		if err != nil {
			return nil, distlock.ErrConflict.New("%q", name)
		}
		return nil, distlock.ErrConflict.New("%s", holder.String())
	}

	return &distlock.Lock{
		Name:     name,
		Owner:    value.Owner,
		Reason:   value.Reason,
		Token:    value.Token,
		Acquired: value.Acquired,
	}, nil
}

// Holder returns the current holder of the named lock.
func (locker *Locker) Holder(ctx context.Context, name string) (_ *distlock.Lock, err error) {
	defer mon.Task()(&ctx)(&err)
	return locker.holder(ctx, name)
}

func (locker *Locker) holder(ctx context.Context, name string) (*distlock.Lock, error) {
	data, err := locker.client.WithContext(ctx).Get(keyPrefix + name).Bytes()
	if err == redis.Nil {
		return nil, distlock.ErrNotHeld.New("%q", name)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var value lease
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, Error.Wrap(err)
	}
	return &distlock.Lock{
		Name:     name,
		Owner:    value.Owner,
		Reason:   value.Reason,
		Token:    value.Token,
		Acquired: value.Acquired,
	}, nil
}

// Release deletes the lock key when it still holds the lease of lock.
func (locker *Locker) Release(ctx context.Context, lock *distlock.Lock) (err error) {
	defer mon.Task()(&ctx)(&err)

	locker.stopRefresh(lock)

	return locker.ifHeld(ctx, lock, func(pipe redis.Pipeliner) {
		pipe.Del(keyPrefix + lock.Name)
	})
}

// extend resets the lease expiration of a held lock.
func (locker *Locker) extend(ctx context.Context, lock *distlock.Lock) error {
	return locker.ifHeld(ctx, lock, func(pipe redis.Pipeliner) {
		pipe.PExpire(keyPrefix+lock.Name, locker.config.TTL)
	})
}

// ifHeld runs update in a transaction that fails when the lock key no longer holds the token.
func (locker *Locker) ifHeld(ctx context.Context, lock *distlock.Lock, update func(pipe redis.Pipeliner)) error {
	key := keyPrefix + lock.Name
	client := locker.client.WithContext(ctx)

	err := client.Watch(func(tx *redis.Tx) error {
		data, err := tx.Get(key).Bytes()
		if err == redis.Nil {
			return distlock.ErrNotHeld.New("%q expired", lock.Name)
		}
		if err != nil {
			return err
		}

		var value lease
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		if value.Token != lock.Token {
			return distlock.ErrNotHeld.New("%q taken over by %s", lock.Name, value.Owner)
		}

		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			update(pipe)
			return nil
		})
		return err
	}, key)

	if err == redis.TxFailedErr {
		return distlock.ErrNotHeld.New("%q changed during release", lock.Name)
	}
	if err != nil && !distlock.ErrNotHeld.Has(err) {
		return Error.Wrap(err)
	}
	return err
}

func (locker *Locker) startRefresh(lock *distlock.Lock) {
	cycle := sync2.NewCycle(locker.config.TTL / 3)

	locker.mu.Lock()
	locker.refresh[lock.Token] = cycle
	locker.mu.Unlock()

	locker.finished.Add(1)
	go func() {
		defer locker.finished.Done()

		first := true
		err := cycle.Run(context.Background(), func(ctx context.Context) error {
			if first {
				first = false
				return nil
			}
			return locker.extend(ctx, lock)
		})
		if err != nil {
			locker.log.Warn("lost lock lease", zap.String("lock", lock.Name), zap.String("owner", lock.Owner), zap.Error(err))
		}
	}()
}

func (locker *Locker) stopRefresh(lock *distlock.Lock) {
	locker.mu.Lock()
	cycle, ok := locker.refresh[lock.Token]
	delete(locker.refresh, lock.Token)
	locker.mu.Unlock()

	if ok {
		cycle.Stop()
	}
}
