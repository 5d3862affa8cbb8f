// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package testsuite

import (
	"bytes"
	"context"
	"testing"

	"storj.io/shardcatalog/storage"
)

func newItem(key, value string) storage.ListItem {
	return storage.ListItem{
		Key:   storage.Key(key),
		Value: storage.Value(value),
	}
}

func putItems(ctx context.Context, store storage.KeyValueStore, items storage.Items) error {
	for _, item := range items {
		if err := store.Put(ctx, item.Key, item.Value); err != nil {
			return err
		}
	}
	return nil
}

func cleanupItems(store storage.KeyValueStore, items storage.Items) {
	for _, item := range items {
		_ = store.Delete(context.Background(), item.Key)
	}
}

func checkItems(t *testing.T, got, expected storage.Items) {
	t.Helper()

	if len(got) != len(expected) {
		t.Fatalf("expected %d items, got %d: %q", len(expected), len(got), got.GetKeys().Strings())
	}

	for i, exp := range expected {
		if !got[i].Key.Equal(exp.Key) || !bytes.Equal(got[i].Value, exp.Value) {
			t.Errorf("%d: mismatch {%q,%q} expected {%q,%q}", i, got[i].Key, got[i].Value, exp.Key, exp.Value)
		}
	}
}
