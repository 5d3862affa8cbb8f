// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"bytes"
	"context"
)

// IteratorFunc implements basic iterator
type IteratorFunc func(ctx context.Context, item *ListItem) bool

// Next returns the next item
func (next IteratorFunc) Next(ctx context.Context, item *ListItem) bool { return next(ctx, item) }

// StaticIterator implements an iterator over a sorted in-memory list of items.
type StaticIterator struct {
	Items Items
	Index int
}

// Next returns the next item
func (it *StaticIterator) Next(ctx context.Context, item *ListItem) bool {
	if it.Index >= len(it.Items) {
		return false
	}
	*item = it.Items[it.Index]
	it.Index++
	return true
}

// EffectiveLimit returns the limit bounded by LookupLimit.
func (opts IterateOptions) EffectiveLimit() int {
	if opts.Limit <= 0 || opts.Limit > LookupLimit {
		return LookupLimit
	}
	return opts.Limit
}

// Start returns the key iteration should begin at.
func (opts IterateOptions) Start() Key {
	if bytes.Compare(opts.First, opts.Prefix) > 0 {
		return opts.First
	}
	return opts.Prefix
}

// ListAll collects every item under prefix, paging through Iterate with LookupLimit sized batches.
func ListAll(ctx context.Context, store KeyValueStore, prefix Key) (items Items, err error) {
	first := prefix
	for {
		var batch Items
		err = store.Iterate(ctx, IterateOptions{
			Prefix: prefix,
			First:  first,
			Limit:  LookupLimit,
		}, func(ctx context.Context, it Iterator) error {
			var item ListItem
			for it.Next(ctx, &item) {
				batch = append(batch, CloneItem(item))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
		if len(batch) < LookupLimit {
			return items, nil
		}
		first = NextKey(batch[len(batch)-1].Key)
	}
}
