// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package metadb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	doc, err := Encode(map[string]interface{}{
		"_id":     "db.coll-a_1",
		"ns":      "db.coll",
		"lastmod": map[string]interface{}{"major": 2, "minor": 7},
		"jumbo":   false,
	})
	require.NoError(t, err)

	for i, tt := range []struct {
		filter Filter
		match  bool
	}{
		{Filter{}, true},
		{Filter{Eq("ns", "db.coll")}, true},
		{Filter{Eq("ns", "db.other")}, false},
		{Filter{Eq("lastmod.major", 2)}, true},
		{Filter{Eq("lastmod.major", 2.0)}, true},
		{Filter{Gt("lastmod.minor", 6), Lte("lastmod.minor", 7)}, true},
		{Filter{Lt("lastmod.minor", "zzz")}, false},
		{Filter{Eq("missing", nil)}, true},
		{Filter{Ne("missing", nil)}, false},
		{Filter{Ne("missing", 1)}, true},
		{Filter{Gte("missing", 0)}, false},
		{Filter{In("jumbo", true, false)}, true},
		{Filter{In("jumbo", true)}, false},
		{Filter{Eq("lastmod", map[string]interface{}{"minor": 7, "major": 2})}, true},
	} {
		compiled, err := tt.filter.compile()
		require.NoError(t, err, i)
		assert.Equal(t, tt.match, compiled.matches(doc), i)
	}

	_, err = Filter{{Field: "x", Op: "$regex", Value: "a"}}.compile()
	assert.True(t, Error.Has(err))
}

func TestCompareValuesTypeOrder(t *testing.T) {
	ordered := []interface{}{nil, 1, 2.5, 10, "", "a", "b", map[string]interface{}{}, []interface{}{1}, false, true}

	var values []interface{}
	for _, v := range ordered {
		n, err := normalize(v)
		require.NoError(t, err)
		values = append(values, n)
	}

	for i := range values {
		for k := range values {
			want := 0
			switch {
			case i < k:
				want = -1
			case i > k:
				want = 1
			}
			assert.Equal(t, want, compareValues(values[i], values[k]), "%v vs %v", ordered[i], ordered[k])
		}
	}
}

func TestDocumentPaths(t *testing.T) {
	doc := Document{"_id": "x"}
	doc.Set("a.b.c", 1)
	v, ok := doc.Get("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clone := doc.Clone()
	doc.Unset("a.b.c")
	_, ok = doc.Get("a.b.c")
	assert.False(t, ok)
	_, ok = clone.Get("a.b.c")
	assert.True(t, ok)

	doc.Unset("nope.nope")
	assert.Equal(t, "x", doc.ID())
}
