// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package boltdb

import (
	"testing"

	"storj.io/shardcatalog/internal/testcontext"
	"storj.io/shardcatalog/storage/testsuite"
)

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, err := New(ctx.File("bolt.db"), "catalog")
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer ctx.Check(store.Close)

	testsuite.RunTests(t, store)
}

func TestReopen(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("reopen.db")
	store, err := New(path, "catalog")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, []byte("shards/shard0000"), []byte(`{"_id":"shard0000"}`)); err != nil {
		t.Fatal(err)
	}
	ctx.Check(store.Close)

	store, err = New(path, "catalog")
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Check(store.Close)

	value, err := store.Get(ctx, []byte("shards/shard0000"))
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != `{"_id":"shard0000"}` {
		t.Fatalf("unexpected value %q", value)
	}
}
