// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package testsuite

import (
	"context"
	"fmt"
	"testing"

	"storj.io/shardcatalog/storage"
)

func testIterate(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()
	items := storage.Items{
		newItem("iterate/a", "a"),
		newItem("iterate/b/1", "b1"),
		newItem("iterate/b/2", "b2"),
		newItem("iterate/c", "c"),
		newItem("iteratf/x", "outside"),
	}
	if err := putItems(ctx, store, items); err != nil {
		t.Fatalf("failed to setup: %v", err)
	}
	defer cleanupItems(store, items)

	tests := []struct {
		Name     string
		Options  storage.IterateOptions
		Expected storage.Items
	}{
		{"prefix", storage.IterateOptions{Prefix: storage.Key("iterate/")}, items[:4]},
		{"nested prefix", storage.IterateOptions{Prefix: storage.Key("iterate/b/")}, items[1:3]},
		{"first", storage.IterateOptions{Prefix: storage.Key("iterate/"), First: storage.Key("iterate/b/2")}, items[2:4]},
		{"limit", storage.IterateOptions{Prefix: storage.Key("iterate/"), Limit: 2}, items[:2]},
		{"no match", storage.IterateOptions{Prefix: storage.Key("iterate/z")}, nil},
	}

	for _, test := range tests {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			var got storage.Items
			err := store.Iterate(ctx, test.Options, func(ctx context.Context, it storage.Iterator) error {
				var item storage.ListItem
				for it.Next(ctx, &item) {
					got = append(got, storage.CloneItem(item))
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			checkItems(t, got, test.Expected)
		})
	}
}

func testListAll(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	var items storage.Items
	for i := 0; i < storage.LookupLimit+5; i++ {
		items = append(items, newItem(fmt.Sprintf("listall/%05d", i), "x"))
	}
	if err := putItems(ctx, store, items); err != nil {
		t.Fatalf("failed to setup: %v", err)
	}
	defer cleanupItems(store, items)

	got, err := storage.ListAll(ctx, store, storage.Key("listall/"))
	if err != nil {
		t.Fatal(err)
	}
	checkItems(t, got, items)
}
