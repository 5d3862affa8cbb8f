// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/shardcatalog/internal/testcontext"
	"storj.io/shardcatalog/pkg/metadb"
	"storj.io/shardcatalog/storage/teststore"
)

type shard struct {
	ID       string `json:"_id"`
	Host     string `json:"host"`
	Draining bool   `json:"draining,omitempty"`
	MaxSize  int64  `json:"maxSize"`
}

func newClient(t *testing.T) (*metadb.Client, *teststore.Client) {
	store := teststore.New()
	return metadb.New(store), store
}

func insertShards(ctx context.Context, t *testing.T, client *metadb.Client, shards ...shard) {
	for _, s := range shards {
		doc, err := metadb.Encode(s)
		require.NoError(t, err)
		require.NoError(t, client.Insert(ctx, "shards", doc))
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, _ := newClient(t)
	insertShards(ctx, t, client, shard{ID: "shard0000", Host: "a:1", MaxSize: 1 << 60})

	doc, err := client.Get(ctx, "shards", "shard0000")
	require.NoError(t, err)

	var got shard
	require.NoError(t, metadb.Decode(doc, &got))
	assert.Equal(t, shard{ID: "shard0000", Host: "a:1", MaxSize: 1 << 60}, got)

	_, err = client.Get(ctx, "shards", "missing")
	assert.True(t, metadb.ErrNotFound.Has(err))

	_, err = client.Get(ctx, "databases", "shard0000")
	assert.True(t, metadb.ErrNotFound.Has(err))
}

func TestInsertDuplicate(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, _ := newClient(t)
	insertShards(ctx, t, client, shard{ID: "s1", Host: "a:1"})

	doc, err := metadb.Encode(shard{ID: "s1", Host: "b:1"})
	require.NoError(t, err)
	err = client.Insert(ctx, "shards", doc)
	assert.True(t, metadb.ErrDuplicateKey.Has(err))

	err = client.Insert(ctx, "shards", metadb.Document{"host": "c:1"})
	assert.True(t, metadb.Error.Has(err))
}

func TestFindFilterSortLimit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, _ := newClient(t)
	insertShards(ctx, t, client,
		shard{ID: "s1", Host: "c:1", MaxSize: 30},
		shard{ID: "s2", Host: "a:1", MaxSize: 10, Draining: true},
		shard{ID: "s3", Host: "b:1", MaxSize: 20},
	)

	docs, err := client.Find(ctx, "shards", metadb.Query{})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "s1", docs[0].ID())
	assert.Equal(t, "s3", docs[2].ID())

	docs, err = client.Find(ctx, "shards", metadb.Query{
		Filter: metadb.Filter{metadb.Ne("draining", true)},
		Sort:   metadb.Sort{metadb.Asc("host")},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "s3", docs[0].ID())
	assert.Equal(t, "s1", docs[1].ID())

	docs, err = client.Find(ctx, "shards", metadb.Query{
		Filter: metadb.Filter{metadb.Gte("maxSize", 20)},
		Sort:   metadb.Sort{metadb.Desc("maxSize")},
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "s1", docs[0].ID())

	count, err := client.Count(ctx, "shards", metadb.Filter{metadb.In("host", "a:1", "b:1", "z:1")})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	doc, err := client.FindOne(ctx, "shards", metadb.Filter{metadb.Eq("host", "a:1")})
	require.NoError(t, err)
	assert.Equal(t, "s2", doc.ID())

	_, err = client.FindOne(ctx, "shards", metadb.Filter{metadb.Eq("host", "nope")})
	assert.True(t, metadb.ErrNotFound.Has(err))
}

func TestPrefixFilter(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, _ := newClient(t)
	for _, ns := range []string{"db.a", "db.b", "db2.a", "dc.a"} {
		require.NoError(t, client.Insert(ctx, "collections", metadb.Document{"_id": ns}))
	}

	docs, err := client.Find(ctx, "collections", metadb.Query{Filter: metadb.HasPrefix(metadb.IDField, "db.")})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "db.a", docs[0].ID())
	assert.Equal(t, "db.b", docs[1].ID())
}

func TestUpdate(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, _ := newClient(t)
	insertShards(ctx, t, client, shard{ID: "s1", Host: "a:1"}, shard{ID: "s2", Host: "b:1"})

	result, err := client.Update(ctx, "shards", nil, metadb.Mutation{
		Set: map[string]interface{}{"draining": true},
	}, metadb.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, metadb.UpdateResult{Matched: 1, Modified: 1}, result)

	count, err := client.Count(ctx, "shards", metadb.Filter{metadb.Eq("draining", true)})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	result, err = client.Update(ctx, "shards", nil, metadb.Mutation{
		Set: map[string]interface{}{"draining": true},
	}, metadb.UpdateOptions{Multi: true})
	require.NoError(t, err)
	assert.Equal(t, metadb.UpdateResult{Matched: 2, Modified: 1}, result)

	result, err = client.Update(ctx, "shards", metadb.Filter{metadb.Eq(metadb.IDField, "s1")}, metadb.Mutation{
		Unset: []string{"draining"},
		Inc:   map[string]int64{"stats.moves": 2},
	}, metadb.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Modified)

	doc, err := client.Get(ctx, "shards", "s1")
	require.NoError(t, err)
	_, draining := doc.Get("draining")
	assert.False(t, draining)
	moves, ok := doc.Get("stats.moves")
	require.True(t, ok)
	assert.EqualValues(t, "2", moves)

	_, err = client.Update(ctx, "shards", metadb.Filter{metadb.Eq(metadb.IDField, "s1")}, metadb.Mutation{
		Set: map[string]interface{}{metadb.IDField: "other"},
	}, metadb.UpdateOptions{})
	assert.True(t, metadb.Error.Has(err))
}

func TestUpsert(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, _ := newClient(t)

	result, err := client.Update(ctx, "settings", metadb.Filter{metadb.Eq(metadb.IDField, "balancer")}, metadb.Mutation{
		Set: map[string]interface{}{"stopped": true},
	}, metadb.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	assert.Equal(t, "balancer", result.UpsertedID)

	doc, err := client.Get(ctx, "settings", "balancer")
	require.NoError(t, err)
	assert.Equal(t, true, doc["stopped"])

	result, err = client.Update(ctx, "settings", metadb.Filter{metadb.Eq(metadb.IDField, "balancer")}, metadb.Mutation{
		Replace: metadb.Document{"value": 5},
	}, metadb.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	assert.Equal(t, metadb.UpdateResult{Matched: 1, Modified: 1}, result)

	doc, err = client.Get(ctx, "settings", "balancer")
	require.NoError(t, err)
	assert.Equal(t, "balancer", doc.ID())
	_, stopped := doc["stopped"]
	assert.False(t, stopped)

	_, err = client.Update(ctx, "settings", metadb.Filter{metadb.Eq("value", 1)}, metadb.Mutation{
		Set: map[string]interface{}{"x": 1},
	}, metadb.UpdateOptions{Upsert: true})
	assert.True(t, metadb.Error.Has(err))
}

func TestRemove(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, _ := newClient(t)
	insertShards(ctx, t, client, shard{ID: "s1", Host: "a"}, shard{ID: "s2", Host: "a"}, shard{ID: "s3", Host: "b"})

	removed, err := client.Remove(ctx, "shards", metadb.Filter{metadb.Eq("host", "a")}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = client.Remove(ctx, "shards", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := client.Count(ctx, "shards", nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDistinctAndKinds(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, _ := newClient(t)
	insertShards(ctx, t, client, shard{ID: "s1", Host: "b"}, shard{ID: "s2", Host: "a"}, shard{ID: "s3", Host: "b"})
	require.NoError(t, client.Insert(ctx, "databases", metadb.Document{"_id": "db"}))

	values, err := client.Distinct(ctx, "shards", "host", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, values)

	kinds, err := client.Kinds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []metadb.Kind{"databases", "shards"}, kinds)
}

func TestStoreErrors(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	client, store := newClient(t)
	insertShards(ctx, t, client, shard{ID: "s1", Host: "a"})

	store.ForceError++
	_, err := client.Find(ctx, "shards", metadb.Query{})
	assert.True(t, metadb.ErrUnavailable.Has(err))

	timed, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()
	<-timed.Done()
	_, err = client.Find(timed, "shards", metadb.Query{})
	assert.True(t, metadb.ErrTimeout.Has(err))

	canceled, cancelNow := context.WithCancel(ctx)
	cancelNow()
	_, err = client.Find(canceled, "shards", metadb.Query{})
	assert.Equal(t, context.Canceled, err)
}
