// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storelogger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"storj.io/shardcatalog/storage"
	"storj.io/shardcatalog/storage/teststore"
	"storj.io/shardcatalog/storage/testsuite"
)

func TestSuite(t *testing.T) {
	store := teststore.New()
	logged := New(zap.NewNop(), store)
	testsuite.RunTests(t, logged)
}

func TestLogsCalls(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logged := New(zap.New(core), teststore.New())

	ctx := context.Background()
	if err := logged.CompareAndSwap(ctx, storage.Key("databases/test"), nil, storage.Value(`{"_id":"test"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := logged.Get(ctx, storage.Key("databases/test")); err != nil {
		t.Fatal(err)
	}
	if _, err := logged.Get(ctx, storage.Key("databases/missing")); !storage.ErrKeyNotFound.Has(err) {
		t.Fatalf("expected key not found, got %v", err)
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}

	insert := entries[0].ContextMap()
	if entries[0].Message != "CompareAndSwap" || insert["kind"] != "databases" || insert["id"] != "test" || insert["op"] != "insert" {
		t.Fatalf("unexpected insert entry %q %v", entries[0].Message, insert)
	}
	if found := entries[1].ContextMap()["found"]; found != true {
		t.Fatalf("expected found document, got %v", found)
	}
	missing := entries[2].ContextMap()
	if missing["found"] != false || missing["error"] == nil {
		t.Fatalf("expected failed lookup, got %v", missing)
	}
}
