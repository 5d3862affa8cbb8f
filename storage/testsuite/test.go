// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package testsuite

import (
	"bytes"
	"context"
	"testing"

	"storj.io/shardcatalog/storage"
)

// RunTests runs common storage.KeyValueStore tests
func RunTests(t *testing.T, store storage.KeyValueStore) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, store) })
	t.Run("Constraints", func(t *testing.T) { testConstraints(t, store) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, store) })
	t.Run("Iterate", func(t *testing.T) { testIterate(t, store) })
	t.Run("ListAll", func(t *testing.T) { testListAll(t, store) })
	t.Run("Parallel", func(t *testing.T) { testParallel(t, store) })
}

func testConstraints(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	t.Run("Put Empty", func(t *testing.T) {
		err := store.Put(ctx, nil, storage.Value("xyz"))
		if !storage.ErrEmptyKey.Has(err) {
			t.Fatalf("putting empty key should fail with empty key: %v", err)
		}
	})

	t.Run("CompareAndSwap Empty", func(t *testing.T) {
		err := store.CompareAndSwap(ctx, nil, nil, storage.Value("xyz"))
		if !storage.ErrEmptyKey.Has(err) {
			t.Fatalf("swapping empty key should fail with empty key: %v", err)
		}
	})

	t.Run("Get Missing", func(t *testing.T) {
		_, err := store.Get(ctx, storage.Key("missing/key"))
		if !storage.ErrKeyNotFound.Has(err) {
			t.Fatalf("getting missing key should fail with key not found: %v", err)
		}
	})

	t.Run("Delete Missing", func(t *testing.T) {
		err := store.Delete(ctx, storage.Key("missing/key"))
		if !storage.ErrKeyNotFound.Has(err) {
			t.Fatalf("deleting missing key should fail with key not found: %v", err)
		}
	})
}

func testCRUD(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	items := storage.Items{
		newItem("crud/a", "1"),
		newItem("crud/b", "2"),
		newItem("crud/c", "3"),
	}
	defer cleanupItems(store, items)

	for _, item := range items {
		if err := store.Put(ctx, item.Key, item.Value); err != nil {
			t.Fatalf("failed to put %q = %q: %v", item.Key, item.Value, err)
		}
	}

	for _, item := range items {
		value, err := store.Get(ctx, item.Key)
		if err != nil {
			t.Fatalf("failed to get %q: %v", item.Key, err)
		}
		if !bytes.Equal(value, item.Value) {
			t.Fatalf("invalid value for %q = %q: got %q", item.Key, item.Value, value)
		}
	}

	if err := store.Put(ctx, items[0].Key, storage.Value("changed")); err != nil {
		t.Fatalf("failed to overwrite %q: %v", items[0].Key, err)
	}
	value, err := store.Get(ctx, items[0].Key)
	if err != nil {
		t.Fatalf("failed to get %q: %v", items[0].Key, err)
	}
	if string(value) != "changed" {
		t.Fatalf("overwrite of %q did not stick: got %q", items[0].Key, value)
	}

	if err := store.Delete(ctx, items[1].Key); err != nil {
		t.Fatalf("failed to delete %q: %v", items[1].Key, err)
	}
	if _, err := store.Get(ctx, items[1].Key); !storage.ErrKeyNotFound.Has(err) {
		t.Fatalf("deleted key %q still readable: %v", items[1].Key, err)
	}
}

func testCompareAndSwap(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	key := storage.Key("cas/key")
	defer func() { _ = store.Delete(ctx, key) }()

	if err := store.CompareAndSwap(ctx, key, nil, storage.Value("v1")); err != nil {
		t.Fatalf("insert through swap failed: %v", err)
	}
	if err := store.CompareAndSwap(ctx, key, nil, storage.Value("v2")); !storage.ErrValueChanged.Has(err) {
		t.Fatalf("second insert should fail with value changed: %v", err)
	}
	if err := store.CompareAndSwap(ctx, key, storage.Value("wrong"), storage.Value("v2")); !storage.ErrValueChanged.Has(err) {
		t.Fatalf("swap with wrong old value should fail: %v", err)
	}
	if err := store.CompareAndSwap(ctx, key, storage.Value("v1"), storage.Value("v2")); err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	value, err := store.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != "v2" {
		t.Fatalf("expected v2, got %q", value)
	}

	if err := store.CompareAndSwap(ctx, key, storage.Value("v2"), nil); err != nil {
		t.Fatalf("delete through swap failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !storage.ErrKeyNotFound.Has(err) {
		t.Fatalf("key should be gone: %v", err)
	}
	if err := store.CompareAndSwap(ctx, key, storage.Value("v2"), nil); !storage.ErrValueChanged.Has(err) {
		t.Fatalf("deleting a missing key with an old value should fail: %v", err)
	}
}
