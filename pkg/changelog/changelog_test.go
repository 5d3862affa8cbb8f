// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package changelog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"storj.io/shardcatalog/internal/testcontext"
	"storj.io/shardcatalog/pkg/changelog"
	"storj.io/shardcatalog/pkg/metadb"
	"storj.io/shardcatalog/storage/teststore"
)

func TestLogChange(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := metadb.New(teststore.New())
	logger := changelog.New(zap.NewNop(), db)

	logger.LogChange(ctx, "router-1", "createDatabase", "Test", map[string]interface{}{"primary": "shardA"})
	logger.LogChange(ctx, "router-1", "dropCollection", "Test.coll", nil)
	logger.LogAction(ctx, changelog.Entry{Actor: "balancer", What: "balancer.round"})

	entries, err := logger.Entries(ctx, changelog.ChangeKind, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "createDatabase", entries[0].What)
	assert.Equal(t, "shardA", entries[0].Details["primary"])
	assert.Equal(t, "Test.coll", entries[1].NS)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	actions, err := logger.Entries(ctx, changelog.ActionKind, "balancer.round")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "balancer", actions[0].Actor)
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	core, logs := observer.New(zapcore.WarnLevel)
	logger := changelog.New(zap.New(core), metadb.New(store))

	store.ForceError++
	logger.LogChange(ctx, "router-1", "createDatabase", "Test", nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "unable to write audit entry", entry.Message)
	assert.Equal(t, "createDatabase", entry.ContextMap()["what"])

	entries, err := logger.Entries(ctx, changelog.ChangeKind, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
