// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sqlitekv

import (
	"testing"

	"storj.io/shardcatalog/internal/testcontext"
	"storj.io/shardcatalog/storage/testsuite"
)

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, err := New(ctx, ctx.File("catalog.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Check(store.Close)

	testsuite.RunTests(t, store)
}
