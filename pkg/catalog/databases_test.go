// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/shardcatalog/internal/testcontext"
	"storj.io/shardcatalog/pkg/catalog"
	"storj.io/shardcatalog/pkg/changelog"
	"storj.io/shardcatalog/pkg/distlock"
)

func TestCreateDatabase(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)

	for _, reserved := range []string{"admin", "config", "local"} {
		err := tc.CreateDatabase(ctx, reserved)
		assert.True(t, catalog.ErrIllegalOperation.Has(err), reserved)
		err = tc.EnableSharding(ctx, reserved)
		assert.True(t, catalog.ErrIllegalOperation.Has(err), reserved)
	}
	for _, invalid := range []string{"", "a.b", "a b"} {
		err := tc.CreateDatabase(ctx, invalid)
		assert.True(t, catalog.ErrFailedToParse.Has(err), invalid)
	}

	err := tc.CreateDatabase(ctx, "one")
	assert.True(t, catalog.ErrShardNotFound.Has(err), "no shard to hold the database: %v", err)

	for _, name := range []string{"admin", "config"} {
		db, err := tc.GetDatabase(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, "config", db.Primary)
	}

	tc.addShard(ctx, t, "a:1")
	tc.addShard(ctx, t, "b:1")

	require.NoError(t, tc.CreateDatabase(ctx, "one"))
	db, err := tc.GetDatabase(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, catalog.Database{ID: "one", Name: "one", Primary: "a", Version: 1}, *db)

	_, err = tc.GetDatabase(ctx, "ONE")
	assert.True(t, catalog.ErrDatabaseNotFound.Has(err), err)
	_, err = tc.GetDatabase(ctx, "missing")
	assert.True(t, catalog.ErrDatabaseNotFound.Has(err), err)

	entries, err := tc.changes.Entries(ctx, changelog.ChangeKind, "createDatabase")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one", entries[0].NS)
	assert.Equal(t, "test-router", entries[0].Actor)
}

func TestEnableSharding(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)
	tc.addShard(ctx, t, "a:1")

	require.NoError(t, tc.CreateDatabase(ctx, "one"))
	require.NoError(t, tc.EnableSharding(ctx, "one"))
	require.NoError(t, tc.EnableSharding(ctx, "one"))
	require.NoError(t, tc.EnableSharding(ctx, "two"))

	for _, name := range []string{"one", "two"} {
		db, err := tc.GetDatabase(ctx, name)
		require.NoError(t, err)
		assert.True(t, db.Partitioned, name)
	}

	err := tc.EnableSharding(ctx, "One")
	assert.True(t, catalog.ErrDatabaseDifferCase.Has(err), err)

	entries, err := tc.changes.Entries(ctx, changelog.ChangeKind, "enableSharding")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "enabling sharding twice is not a change")
}

func TestConcurrentCaseVariants(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)
	tc.addShard(ctx, t, "a:1")

	variants := []string{"Conc", "CONC", "conc", "Conc", "cOnC", "coNC", "CONC", "conc"}
	results := make([]error, len(variants))
	for i, name := range variants {
		i, name := i, name
		ctx.Go(func() error {
			if i%2 == 0 {
				results[i] = tc.CreateDatabase(ctx, name)
			} else {
				results[i] = tc.EnableSharding(ctx, name)
			}
			return nil
		})
	}
	ctx.Wait()

	dbs, err := tc.GetAllDatabases(ctx)
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	winner := dbs[0].Name

	succeeded := 0
	for i, err := range results {
		if err == nil {
			succeeded++
			assert.Equal(t, winner, variants[i], "only the stored case may succeed")
			continue
		}
		if variants[i] == winner {
			assert.True(t, catalog.ErrNamespaceExists.Has(err), "%s: %v", variants[i], err)
		} else {
			assert.True(t, catalog.ErrDatabaseDifferCase.Has(err), "%s: %v", variants[i], err)
		}
	}
	assert.NotZero(t, succeeded)

	tc.requireUnlocked(t, distlock.ShardTopology, distlock.DatabaseLock("conc"))
}

func TestUpdateDatabase(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)
	tc.addShard(ctx, t, "a:1")
	tc.addShard(ctx, t, "b:1")

	require.NoError(t, tc.CreateDatabase(ctx, "one"))
	require.NoError(t, tc.CreateDatabase(ctx, "two"))
	require.NoError(t, tc.UpdateDatabase(ctx, "Three", catalog.Database{Primary: "b", Partitioned: true}))

	db, err := tc.GetDatabase(ctx, "Three")
	require.NoError(t, err)
	assert.Equal(t, catalog.Database{ID: "three", Name: "Three", Primary: "b", Partitioned: true}, *db)

	dbs, err := tc.GetAllDatabases(ctx)
	require.NoError(t, err)
	var names []string
	for _, db := range dbs {
		names = append(names, db.Name)
	}
	assert.Equal(t, []string{"Three", "one", "two"}, names)

	onA, err := tc.GetDatabasesForShard(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, onA)

	onNone, err := tc.GetDatabasesForShard(ctx, "none")
	require.NoError(t, err)
	assert.NotNil(t, onNone)
	assert.Empty(t, onNone)
}

func TestMovePrimary(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)
	tc.addShard(ctx, t, "a:1")
	tc.addShard(ctx, t, "b:1")
	require.NoError(t, tc.CreateDatabase(ctx, "one"))

	err := tc.MovePrimary(ctx, "missing", "b")
	assert.True(t, catalog.ErrDatabaseNotFound.Has(err), err)
	err = tc.MovePrimary(ctx, "one", "missing")
	assert.True(t, catalog.ErrShardNotFound.Has(err), err)
	err = tc.MovePrimary(ctx, "config", "b")
	assert.True(t, catalog.ErrIllegalOperation.Has(err), err)

	require.NoError(t, tc.MovePrimary(ctx, "one", "a"))
	require.NoError(t, tc.MovePrimary(ctx, "one", "b"))

	db, err := tc.GetDatabase(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "b", db.Primary)
	assert.EqualValues(t, 2, db.Version)

	moves, err := tc.changes.Entries(ctx, changelog.ChangeKind, "movePrimary")
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, "a", moves[0].Details["from"])
	assert.Equal(t, "b", moves[0].Details["to"])
}
