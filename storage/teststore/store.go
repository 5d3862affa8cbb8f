// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/storage"
)

var (
	mon = monkit.Package()

	// ErrForced is returned when a call was configured to fail.
	ErrForced = errs.Class("forced error")
)

// Client implements in-memory key value store
type Client struct {
	mu sync.Mutex

	Items []storage.ListItem
	// ForceError makes the next ForceError calls fail.
	ForceError int
	CallCount  struct {
		Get            int
		Put            int
		Delete         int
		Iterate        int
		CompareAndSwap int
		Close          int
	}

	// writesBeforeFailure counts down successful writes before writes start failing, -1 disables.
	writesBeforeFailure int
}

// New creates a new in-memory key-value store
func New() *Client { return &Client{writesBeforeFailure: -1} }

// FailWritesAfter lets n more writes succeed and fails every write after that
// until ClearFailures is called.
func (store *Client) FailWritesAfter(n int) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.writesBeforeFailure = n
}

// ClearFailures disables all configured failures.
func (store *Client) ClearFailures() {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.writesBeforeFailure = -1
	store.ForceError = 0
}

// indexOf finds index of key or where it could be inserted
func (store *Client) indexOf(key storage.Key) (int, bool) {
	i := sort.Search(len(store.Items), func(k int) bool {
		return !store.Items[k].Key.Less(key)
	})

	if i >= len(store.Items) {
		return i, false
	}
	return i, store.Items[i].Key.Equal(key)
}

func (store *Client) forcedError() bool {
	if store.ForceError > 0 {
		store.ForceError--
		return true
	}
	return false
}

func (store *Client) writeFailure() bool {
	if store.forcedError() {
		return true
	}
	switch {
	case store.writesBeforeFailure < 0:
		return false
	case store.writesBeforeFailure == 0:
		return true
	default:
		store.writesBeforeFailure--
		return false
	}
}

// Put adds a value to store
func (store *Client) Put(ctx context.Context, key storage.Key, value storage.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Put++
	if store.writeFailure() {
		return ErrForced.New("Put")
	}
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	store.put(key, value)
	return nil
}

func (store *Client) put(key storage.Key, value storage.Value) {
	keyIndex, found := store.indexOf(key)
	if found {
		store.Items[keyIndex].Value = storage.CloneValue(value)
		return
	}

	store.Items = append(store.Items, storage.ListItem{})
	copy(store.Items[keyIndex+1:], store.Items[keyIndex:])
	store.Items[keyIndex] = storage.ListItem{
		Key:   storage.CloneKey(key),
		Value: storage.CloneValue(value),
	}
}

func (store *Client) delete(keyIndex int) {
	copy(store.Items[keyIndex:], store.Items[keyIndex+1:])
	store.Items = store.Items[:len(store.Items)-1]
}

// Get gets a value to store
func (store *Client) Get(ctx context.Context, key storage.Key) (_ storage.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Get++
	if store.forcedError() {
		return nil, ErrForced.New("Get")
	}
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}

	return storage.CloneValue(store.Items[keyIndex].Value), nil
}

// Delete deletes key and the value
func (store *Client) Delete(ctx context.Context, key storage.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.Delete++
	if store.writeFailure() {
		return ErrForced.New("Delete")
	}
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found {
		return storage.ErrKeyNotFound.New("%q", key)
	}

	store.delete(keyIndex)
	return nil
}

// Iterate iterates over items based on opts. The callback sees a snapshot taken at the start of the call.
func (store *Client) Iterate(ctx context.Context, opts storage.IterateOptions, fn func(context.Context, storage.Iterator) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	store.CallCount.Iterate++
	if store.forcedError() {
		store.mu.Unlock()
		return ErrForced.New("Iterate")
	}

	limit := opts.EffectiveLimit()
	start, _ := store.indexOf(opts.Start())
	var snapshot storage.Items
	for _, item := range store.Items[start:] {
		if !bytes.HasPrefix(item.Key, opts.Prefix) || len(snapshot) >= limit {
			break
		}
		snapshot = append(snapshot, storage.CloneItem(item))
	}
	store.mu.Unlock()

	return fn(ctx, &storage.StaticIterator{Items: snapshot})
}

// CompareAndSwap atomically compares and swaps oldValue with newValue
func (store *Client) CompareAndSwap(ctx context.Context, key storage.Key, oldValue, newValue storage.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.mu.Lock()
	defer store.mu.Unlock()

	store.CallCount.CompareAndSwap++
	if store.writeFailure() {
		return ErrForced.New("CompareAndSwap")
	}
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found {
		if oldValue != nil {
			return storage.ErrValueChanged.New("%q", key)
		}
		if newValue != nil {
			store.put(key, newValue)
		}
		return nil
	}

	if oldValue == nil || !bytes.Equal(store.Items[keyIndex].Value, oldValue) {
		return storage.ErrValueChanged.New("%q", key)
	}

	if newValue == nil {
		store.delete(keyIndex)
		return nil
	}

	store.Items[keyIndex].Value = storage.CloneValue(newValue)
	return nil
}

// Count returns the number of stored items.
func (store *Client) Count() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.Items)
}

// Close closes the store
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	if store.forcedError() {
		return ErrForced.New("Close")
	}
	return nil
}
