// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storelogger

import (
	"bytes"
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/storage"
)

var mon = monkit.Package()

var id int64

// Logger is a storage.KeyValueStore logging every call at debug level. Keys
// are logged as the document kind and id they address.
type Logger struct {
	log   *zap.Logger
	store storage.KeyValueStore
}

// New creates a new Logger with log and store
func New(log *zap.Logger, store storage.KeyValueStore) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	return &Logger{log.Named(strconv.FormatInt(loggerid, 10)), store}
}

// keyFields splits key at the first delimiter into its document kind and id.
func keyFields(key storage.Key) []zap.Field {
	i := bytes.IndexByte(key, storage.Delimiter)
	if i < 0 {
		return []zap.Field{zap.ByteString("key", key)}
	}
	return []zap.Field{zap.ByteString("kind", key[:i]), zap.ByteString("id", key[i+1:])}
}

// done logs the outcome of op.
func (store *Logger) done(op string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	store.log.Debug(op, fields...)
}

// Put adds a value to store
func (store *Logger) Put(ctx context.Context, key storage.Key, value storage.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = store.store.Put(ctx, key, value)
	store.done("Put", err, append(keyFields(key), zap.Int("size", len(value)))...)
	return err
}

// Get gets a value to store
func (store *Logger) Get(ctx context.Context, key storage.Key) (value storage.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	value, err = store.store.Get(ctx, key)
	store.done("Get", err, append(keyFields(key), zap.Bool("found", err == nil))...)
	return value, err
}

// Delete deletes key and the value
func (store *Logger) Delete(ctx context.Context, key storage.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = store.store.Delete(ctx, key)
	store.done("Delete", err, keyFields(key)...)
	return err
}

// Iterate iterates over items based on opts and logs how many were visited.
func (store *Logger) Iterate(ctx context.Context, opts storage.IterateOptions, fn func(context.Context, storage.Iterator) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	visited := 0
	err = store.store.Iterate(ctx, opts, func(ctx context.Context, it storage.Iterator) error {
		return fn(ctx, storage.IteratorFunc(func(ctx context.Context, item *storage.ListItem) bool {
			ok := it.Next(ctx, item)
			if ok {
				visited++
			}
			return ok
		}))
	})
	store.done("Iterate", err,
		zap.ByteString("prefix", opts.Prefix),
		zap.ByteString("first", opts.First),
		zap.Int("limit", opts.Limit),
		zap.Int("visited", visited),
	)
	return err
}

// CompareAndSwap atomically compares and swaps oldValue with newValue. The
// logged operation tells inserts, updates and deletes apart.
func (store *Logger) CompareAndSwap(ctx context.Context, key storage.Key, oldValue, newValue storage.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = store.store.CompareAndSwap(ctx, key, oldValue, newValue)

	op := "update"
	switch {
	case oldValue == nil:
		op = "insert"
	case newValue == nil:
		op = "delete"
	}
	store.done("CompareAndSwap", err, append(keyFields(key),
		zap.String("op", op),
		zap.Bool("conflict", storage.ErrValueChanged.Has(err)),
	)...)
	return err
}

// Close closes the store
func (store *Logger) Close() error {
	err := store.store.Close()
	store.done("Close", err)
	return err
}
