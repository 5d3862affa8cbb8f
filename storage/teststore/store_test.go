// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"context"
	"testing"

	"storj.io/shardcatalog/storage"
	"storj.io/shardcatalog/storage/testsuite"
)

func TestSuite(t *testing.T) {
	store := New()
	testsuite.RunTests(t, store)
}

func TestFailWritesAfter(t *testing.T) {
	ctx := context.Background()
	store := New()

	store.FailWritesAfter(1)
	if err := store.Put(ctx, storage.Key("a"), storage.Value("1")); err != nil {
		t.Fatalf("first write should succeed: %v", err)
	}
	if err := store.Put(ctx, storage.Key("b"), storage.Value("2")); !ErrForced.Has(err) {
		t.Fatalf("second write should fail: %v", err)
	}
	if _, err := store.Get(ctx, storage.Key("a")); err != nil {
		t.Fatalf("reads should keep working: %v", err)
	}

	store.ClearFailures()
	if err := store.Put(ctx, storage.Key("b"), storage.Value("2")); err != nil {
		t.Fatalf("write after clearing failures: %v", err)
	}
	if store.Count() != 2 {
		t.Fatalf("expected 2 items, got %d", store.Count())
	}
}
