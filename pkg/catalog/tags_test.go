// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/shardcatalog/internal/testcontext"
	"storj.io/shardcatalog/pkg/catalog"
)

func TestTagRanges(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)

	east := catalog.Tag{NS: "db.c", Tag: "east", Min: catalog.GlobalMin(1), Max: bound(10)}
	west := catalog.Tag{NS: "db.c", Tag: "west", Min: bound(10), Max: bound(20)}

	require.NoError(t, tc.AddTagRange(ctx, west))
	require.NoError(t, tc.AddTagRange(ctx, east))
	require.NoError(t, tc.AddTagRange(ctx, catalog.Tag{NS: "db.other", Tag: "east", Min: bound(0), Max: bound(100)}))

	err := tc.AddTagRange(ctx, catalog.Tag{NS: "db.c", Tag: "north", Min: bound(5), Max: bound(15)})
	assert.True(t, catalog.ErrIllegalOperation.Has(err), err)
	err = tc.AddTagRange(ctx, catalog.Tag{NS: "db.c", Tag: "", Min: bound(30), Max: bound(40)})
	assert.True(t, catalog.ErrFailedToParse.Has(err), err)
	err = tc.AddTagRange(ctx, catalog.Tag{NS: "db.c", Tag: "north", Min: bound(40), Max: bound(30)})
	assert.True(t, catalog.ErrFailedToParse.Has(err), err)

	tags, err := tc.GetTagsForCollection(ctx, "db.c")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "east", tags[0].Tag)
	assert.Equal(t, "west", tags[1].Tag)

	for _, test := range []struct {
		min, max catalog.Bound
		tag      string
	}{
		{bound(0), bound(5), "east"},
		{bound(12), bound(18), "west"},
		{bound(5), bound(15), "east"},
		{bound(15), bound(25), "west"},
		{bound(30), catalog.GlobalMax(1), ""},
	} {
		tag, err := tc.GetTagForChunk(ctx, "db.c", catalog.Chunk{NS: "db.c", Min: test.min, Max: test.max})
		require.NoError(t, err)
		assert.Equal(t, test.tag, tag, "[%s, %s)", test.min, test.max)
	}

	require.NoError(t, tc.RemoveTagRange(ctx, "db.c", bound(10)))
	err = tc.RemoveTagRange(ctx, "db.c", bound(10))
	assert.True(t, catalog.ErrNoMatchingDocument.Has(err), err)

	tags, err = tc.GetTagsForCollection(ctx, "db.c")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "east", tags[0].Tag)
}

func TestGlobalSettings(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tc := newTestCatalog(t)

	_, err := tc.GetGlobalSettings(ctx, catalog.ChunkSizeSetting)
	assert.True(t, catalog.ErrNoMatchingDocument.Has(err), err)

	require.NoError(t, tc.UpdateGlobalSettings(ctx, catalog.ChunkSizeSetting, 64))
	require.NoError(t, tc.UpdateGlobalSettings(ctx, catalog.BalancerSetting, map[string]interface{}{"stopped": true}))
	require.NoError(t, tc.UpdateGlobalSettings(ctx, catalog.ChunkSizeSetting, 32))

	setting, err := tc.GetGlobalSettings(ctx, catalog.ChunkSizeSetting)
	require.NoError(t, err)
	assert.Equal(t, catalog.ChunkSizeSetting, setting.Key)
	assert.JSONEq(t, `32`, string(setting.Value))

	setting, err = tc.GetGlobalSettings(ctx, catalog.BalancerSetting)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stopped": true}`, string(setting.Value))

	err = tc.UpdateGlobalSettings(ctx, "", 1)
	assert.True(t, catalog.ErrFailedToParse.Has(err), err)
}
