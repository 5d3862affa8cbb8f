// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/shardcatalog/internal/testcontext"
	"storj.io/shardcatalog/pkg/catalog"
	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

func TestDirectWrites(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)

	require.NoError(t, tc.Insert(ctx, "config.settings", metadb.Document{"_id": catalog.ChunkSizeSetting, "value": 64}))
	setting, err := tc.GetGlobalSettings(ctx, catalog.ChunkSizeSetting)
	require.NoError(t, err)
	assert.JSONEq(t, `64`, string(setting.Value))

	result, err := tc.Update(ctx, "config.settings",
		metadb.Filter{metadb.Eq(metadb.IDField, catalog.ChunkSizeSetting)},
		metadb.Mutation{Set: map[string]interface{}{"value": 32}},
		metadb.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)

	setting, err = tc.GetGlobalSettings(ctx, catalog.ChunkSizeSetting)
	require.NoError(t, err)
	assert.JSONEq(t, `32`, string(setting.Value))

	require.NoError(t, tc.Insert(ctx, "admin.system.users", metadb.Document{"_id": "u1", "user": "alice"}))
	user, err := tc.db.Get(ctx, "admin.system.users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user["user"])

	removed, err := tc.Remove(ctx, "admin.system.users", metadb.Filter{metadb.Eq("user", "alice")}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ping := metadb.Document{"ping": "x"}
	require.NoError(t, tc.Insert(ctx, "config.mongos", ping))
	assert.NotContains(t, ping, metadb.IDField)
	pings, err := tc.db.Find(ctx, "mongos", metadb.Query{})
	require.NoError(t, err)
	require.Len(t, pings, 1)
	assert.Equal(t, "x", pings[0]["ping"])
	_, err = uuid.Parse(pings[0].ID())
	assert.NoError(t, err)

	err = tc.Insert(ctx, "test.foo", metadb.Document{"_id": "x"})
	assert.True(t, catalog.ErrIllegalOperation.Has(err), err)
	_, err = tc.Update(ctx, "test.foo", nil, metadb.Mutation{}, metadb.UpdateOptions{})
	assert.True(t, catalog.ErrIllegalOperation.Has(err), err)
	_, err = tc.Remove(ctx, "config", nil, 0)
	assert.True(t, catalog.ErrFailedToParse.Has(err), err)
}

type commandFunc func(ctx context.Context, db string, command metadb.Document) (metadb.Document, error)

func (fn commandFunc) RunCommand(ctx context.Context, db string, command metadb.Document) (metadb.Document, error) {
	return fn(ctx, db, command)
}

func TestRunCommands(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)

	_, err := tc.RunReadCommand(ctx, "admin", metadb.Document{"ping": 1})
	assert.True(t, catalog.Error.Has(err), "no runner configured: %v", err)

	var heldDuringWrite bool
	runner := commandFunc(func(ctx context.Context, db string, command metadb.Document) (metadb.Document, error) {
		lock, held := tc.locks.Holder(distlock.AuthorizationData)
		if held && lock.Reason == "createUser" {
			heldDuringWrite = true
		}
		return metadb.Document{"ok": 1, "db": db}, nil
	})
	manager := catalog.New(zaptest.NewLogger(t), catalog.Dependencies{
		DB:       tc.db,
		Locks:    tc.locks,
		Commands: runner,
	}, catalog.Config{Owner: "test-router"})

	reply, err := manager.RunReadCommand(ctx, "admin", metadb.Document{"ping": 1})
	require.NoError(t, err)
	assert.Equal(t, "admin", reply["db"])
	assert.False(t, heldDuringWrite)

	_, err = manager.RunUserManagementReadCommand(ctx, "admin", metadb.Document{"usersInfo": 1})
	require.NoError(t, err)
	assert.False(t, heldDuringWrite)

	_, err = manager.RunUserManagementWriteCommand(ctx, "createUser", "admin", metadb.Document{"createUser": "alice"})
	require.NoError(t, err)
	assert.True(t, heldDuringWrite)
	tc.requireUnlocked(t, distlock.AuthorizationData)

	_, err = manager.RunReadCommand(ctx, "admin", metadb.Document{})
	assert.True(t, catalog.ErrFailedToParse.Has(err), err)
	_, err = manager.RunReadCommand(ctx, " ", metadb.Document{"ping": 1})
	assert.True(t, catalog.ErrFailedToParse.Has(err), err)
}
