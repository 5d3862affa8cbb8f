// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"bytes"
	"context"

	"github.com/zeebo/errs"
)

// Delimiter separates the kind of a document from its identifier in keys.
const Delimiter = '/'

// LookupLimit is the maximum number of items a single Iterate call may request.
const LookupLimit = 1000

// ErrKeyNotFound used when something doesn't exist
var ErrKeyNotFound = errs.Class("key not found")

// ErrEmptyKey is returned when an empty key is used in Put or in CompareAndSwap
var ErrEmptyKey = errs.Class("empty key")

// ErrValueChanged is returned when the current value of the key does not match the oldValue in CompareAndSwap
var ErrValueChanged = errs.Class("value changed")

// ErrLimitExceeded is returned when request limit is exceeded
var ErrLimitExceeded = errs.Class("limit exceeded")

// Key is the type for the keys in a `KeyValueStore`
type Key []byte

// Value is the type for the values in a `ValueValueStore`
type Value []byte

// Keys is the type for a slice of keys in a `KeyValueStore`
type Keys []Key

// ListItem returns Key, Value pair
type ListItem struct {
	Key   Key
	Value Value
}

// Items keeps all ListItem
type Items []ListItem

// KeyValueStore describes key/value stores like boltdb, postgres and sqlite.
//
// Implementations must be safe for concurrent use. Keys are iterated in
// ascending byte order.
type KeyValueStore interface {
	// Put adds a value to the provided key in the KeyValueStore, returning an error on failure.
	Put(ctx context.Context, key Key, value Value) error
	// Get gets a value to store
	Get(ctx context.Context, key Key) (Value, error)
	// Delete deletes key and the value
	Delete(ctx context.Context, key Key) error
	// Iterate iterates over items based on opts
	Iterate(ctx context.Context, opts IterateOptions, fn func(context.Context, Iterator) error) error
	// CompareAndSwap atomically compares and swaps oldValue with newValue.
	// A nil oldValue requires the key to be absent, a nil newValue deletes the key.
	CompareAndSwap(ctx context.Context, key Key, oldValue, newValue Value) error
	// Close closes the store
	Close() error
}

// IterateOptions contains options for iterator
type IterateOptions struct {
	// Prefix restricts iteration to keys starting with it.
	Prefix Key
	// First will be the first item iterator returns or the next item (previous when reverse)
	First Key
	// Limit sets the maximum number of items returned, zero means LookupLimit.
	Limit int
}

// Iterator iterates over a sequence of ListItems
type Iterator interface {
	// Next prepares the next list item.
	// It returns true on success, or false if there is no next result row or an error happened while preparing it.
	Next(ctx context.Context, item *ListItem) bool
}

// IsZero returns true if the value struct is it's zero value
func (value Value) IsZero() bool {
	return len(value) == 0
}

// IsZero returns true if the key struct is it's zero value
func (key Key) IsZero() bool {
	return len(key) == 0
}

// Equal returns true if key is equal to b
func (key Key) Equal(b Key) bool {
	return bytes.Equal(key, b)
}

// Less returns true if key is less than b
func (key Key) Less(b Key) bool {
	return bytes.Compare(key, b) < 0
}

// String implements the Stringer interface
func (key Key) String() string { return string(key) }

// Strings returns everything as strings
func (keys Keys) Strings() []string {
	strs := make([]string, 0, len(keys))
	for _, key := range keys {
		strs = append(strs, string(key))
	}
	return strs
}

// Len is the number of elements in the collection.
func (items Items) Len() int { return len(items) }

// Less reports whether the element with
// index i should sort before the element with index j.
func (items Items) Less(i, k int) bool { return items[i].Key.Less(items[k].Key) }

// Swap swaps the elements with indexes i and j.
func (items Items) Swap(i, k int) { items[i], items[k] = items[k], items[i] }

// GetKeys gets all the keys
func (items Items) GetKeys() Keys {
	if len(items) == 0 {
		return nil
	}

	keys := make(Keys, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}
	return keys
}
