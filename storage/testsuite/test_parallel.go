// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package testsuite

import (
	"bytes"
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"storj.io/shardcatalog/storage"
)

func testParallel(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	items := storage.Items{
		newItem("parallel/a", "1"),
		newItem("parallel/b", "2"),
		newItem("parallel/c", "3"),
	}
	rand.Shuffle(len(items), items.Swap)
	defer cleanupItems(store, items)

	t.Run("group", func(t *testing.T) {
		for i := range items {
			item := items[i]
			t.Run(strconv.Itoa(i), func(t *testing.T) {
				t.Parallel()

				if err := store.Put(ctx, item.Key, item.Value); err != nil {
					t.Fatalf("failed to put %q = %v: %v", item.Key, item.Value, err)
				}

				value, err := store.Get(ctx, item.Key)
				if err != nil {
					t.Fatalf("failed to get %q = %v: %v", item.Key, item.Value, err)
				}
				if !bytes.Equal(value, item.Value) {
					t.Fatalf("invalid value for %q = %v: got %v", item.Key, item.Value, value)
				}

				nextValue := storage.Value(string(item.Value) + "X")
				if err := store.CompareAndSwap(ctx, item.Key, value, nextValue); err != nil {
					t.Fatalf("failed to swap %q = %v: %v", item.Key, nextValue, err)
				}
			})
		}
	})

	t.Run("contended swap", func(t *testing.T) {
		key := storage.Key("parallel/contended")
		defer func() { _ = store.Delete(ctx, key) }()

		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.CompareAndSwap(ctx, key, nil, storage.Value(strconv.Itoa(i)))
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
					return
				}
				if !storage.ErrValueChanged.Has(err) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if winners != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners)
		}
	})
}
