// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"sort"

	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

// AddTagRange assigns a key range of a collection to a zone. Ranges of the
// same collection must not overlap.
func (m *Manager) AddTagRange(ctx context.Context, tag Tag) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, _, err := ParseNamespace(tag.NS); err != nil {
		return err
	}
	if tag.Tag == "" {
		return ErrFailedToParse.New("empty tag name")
	}
	if tag.Min.Compare(tag.Max) >= 0 {
		return ErrFailedToParse.New("tag range [%s, %s) is empty", tag.Min, tag.Max)
	}

	return m.withLock(ctx, distlock.NamespaceLock(tag.NS), "addTagRange", func(ctx context.Context) error {
		existing, err := m.GetTagsForCollection(ctx, tag.NS)
		if err != nil {
			return err
		}
		for i := range existing {
			if existing[i].Range().Overlaps(tag.Range()) {
				return ErrIllegalOperation.New("range [%s, %s) overlaps tag %q", tag.Min, tag.Max, existing[i].Tag)
			}
		}

		tag.ID = ChunkID(tag.NS, tag.Min)
		if err := m.insert(ctx, TagsKind, tag); err != nil {
			return err
		}
		m.logChange(ctx, "addTagRange", tag.NS, map[string]interface{}{"tag": tag.Tag, "min": tag.Min.String(), "max": tag.Max.String()})
		return nil
	})
}

// RemoveTagRange removes the tag range of ns starting at min.
func (m *Manager) RemoveTagRange(ctx context.Context, ns string, min Bound) (err error) {
	defer mon.Task()(&ctx)(&err)

	return m.withLock(ctx, distlock.NamespaceLock(ns), "removeTagRange", func(ctx context.Context) error {
		removed, err := m.db.Remove(ctx, TagsKind, metadb.Filter{metadb.Eq(metadb.IDField, ChunkID(ns, min))}, 1)
		if err != nil {
			return err
		}
		if removed == 0 {
			return ErrNoMatchingDocument.New("no tag range of %q starts at %s", ns, min)
		}
		m.logChange(ctx, "removeTagRange", ns, map[string]interface{}{"min": min.String()})
		return nil
	})
}

// GetTagsForCollection returns the tag ranges of ns ordered by range.
func (m *Manager) GetTagsForCollection(ctx context.Context, ns string) (_ []Tag, err error) {
	defer mon.Task()(&ctx)(&err)

	docs, err := m.db.Find(ctx, TagsKind, metadb.Query{Filter: metadb.Filter{metadb.Eq("ns", ns)}})
	if err != nil {
		return nil, err
	}

	tags := make([]Tag, 0, len(docs))
	err = decodeAll(docs, func(doc metadb.Document) error {
		var tag Tag
		if err := metadb.Decode(doc, &tag); err != nil {
			return err
		}
		tags = append(tags, tag)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tags, func(i, k int) bool { return tags[i].Min.Compare(tags[k].Min) < 0 })
	return tags, nil
}

// GetTagForChunk returns the tag of the range containing the chunk, falling
// back to the first overlapping range. It returns "" when no range overlaps.
func (m *Manager) GetTagForChunk(ctx context.Context, ns string, chunk Chunk) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	tags, err := m.GetTagsForCollection(ctx, ns)
	if err != nil {
		return "", err
	}

	overlapping := ""
	for i := range tags {
		if tags[i].Range().Contains(chunk.Range()) {
			return tags[i].Tag, nil
		}
		if overlapping == "" && tags[i].Range().Overlaps(chunk.Range()) {
			overlapping = tags[i].Tag
		}
	}
	return overlapping, nil
}
