// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

// ChunkQuery selects chunks. Empty fields do not constrain the result.
type ChunkQuery struct {
	NS     string
	Shard  string
	Filter metadb.Filter
	// Limit caps the number of chunks, zero means no limit.
	Limit int
}

// GetChunks returns the chunks matching query ordered by namespace and range.
func (m *Manager) GetChunks(ctx context.Context, query ChunkQuery) (_ []Chunk, err error) {
	defer mon.Task()(&ctx)(&err)

	filter := append(metadb.Filter(nil), query.Filter...)
	if query.NS != "" {
		filter = append(filter, metadb.Eq("ns", query.NS))
	}
	if query.Shard != "" {
		filter = append(filter, metadb.Eq("shard", query.Shard))
	}

	docs, err := m.db.Find(ctx, ChunksKind, metadb.Query{Filter: filter})
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(docs))
	err = decodeAll(docs, func(doc metadb.Document) error {
		var chunk Chunk
		if err := metadb.Decode(doc, &chunk); err != nil {
			return err
		}
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(chunks, func(i, k int) bool {
		if chunks[i].NS != chunks[k].NS {
			return chunks[i].NS < chunks[k].NS
		}
		return chunks[i].Min.Compare(chunks[k].Min) < 0
	})
	if query.Limit > 0 && len(chunks) > query.Limit {
		chunks = chunks[:query.Limit]
	}
	return chunks, nil
}

// highestVersion returns the highest chunk version of ns.
func (m *Manager) highestVersion(ctx context.Context, ns string) (ChunkVersion, error) {
	chunks, err := m.GetChunks(ctx, ChunkQuery{NS: ns})
	if err != nil {
		return ChunkVersion{}, err
	}
	if len(chunks) == 0 {
		return ChunkVersion{}, ErrNamespaceNotFound.New("%q has no chunks", ns)
	}

	highest := chunks[0].Version
	for _, chunk := range chunks[1:] {
		if highest.Less(chunk.Version) {
			highest = chunk.Version
		}
	}
	return highest, nil
}

func (m *Manager) getChunk(ctx context.Context, ns string, min Bound) (*Chunk, error) {
	doc, err := m.db.Get(ctx, ChunksKind, ChunkID(ns, min))
	if metadb.ErrNotFound.Has(err) {
		return nil, ErrNoMatchingDocument.New("chunk of %q starting at %s", ns, min)
	}
	if err != nil {
		return nil, err
	}

	var chunk Chunk
	if err := metadb.Decode(doc, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// SplitChunk splits the chunk of ns starting at chunkMin at splitPoint. Both
// halves receive minor versions above the highest version of the collection.
func (m *Manager) SplitChunk(ctx context.Context, ns string, chunkMin, splitPoint Bound) (err error) {
	defer mon.Task()(&ctx)(&err)

	return m.withLock(ctx, distlock.NamespaceLock(ns), "split", func(ctx context.Context) error {
		if _, err := m.GetCollection(ctx, ns); err != nil {
			return err
		}
		chunk, err := m.getChunk(ctx, ns, chunkMin)
		if err != nil {
			return err
		}
		if len(splitPoint) != len(chunk.Min) || splitPoint.Compare(chunk.Min) <= 0 || splitPoint.Compare(chunk.Max) >= 0 {
			return ErrIllegalOperation.New("split point %s is not inside chunk [%s, %s)", splitPoint, chunk.Min, chunk.Max)
		}
		highest, err := m.highestVersion(ctx, ns)
		if err != nil {
			return err
		}

		left := *chunk
		left.Max = splitPoint
		left.Version = ChunkVersion{Major: highest.Major, Minor: highest.Minor + 1, Epoch: highest.Epoch}

		right := *chunk
		right.ID = ChunkID(ns, splitPoint)
		right.Min = splitPoint
		right.Version = ChunkVersion{Major: highest.Major, Minor: highest.Minor + 2, Epoch: highest.Epoch}

		if err := m.replaceChunk(ctx, chunk, left); err != nil {
			return err
		}
		if err := m.insert(ctx, ChunksKind, right); err != nil {
			return err
		}

		m.logChange(ctx, "split", ns, map[string]interface{}{
			"before": map[string]interface{}{"min": chunk.Min.String(), "max": chunk.Max.String(), "lastmod": chunk.Version.String()},
			"left":   map[string]interface{}{"min": left.Min.String(), "max": left.Max.String(), "lastmod": left.Version.String()},
			"right":  map[string]interface{}{"min": right.Min.String(), "max": right.Max.String(), "lastmod": right.Version.String()},
		})
		return nil
	})
}

// MoveChunk assigns the chunk of ns starting at chunkMin to toShard with a new major version.
func (m *Manager) MoveChunk(ctx context.Context, ns string, chunkMin Bound, toShard string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return m.withNamespaceLocks(ctx, ns, "moveChunk", func(ctx context.Context) error {
		target, err := m.GetShard(ctx, toShard)
		if err != nil {
			return err
		}
		if target.IsDraining() {
			return ErrIllegalOperation.New("can't move chunk to draining shard %q", toShard)
		}
		chunk, err := m.getChunk(ctx, ns, chunkMin)
		if err != nil {
			return err
		}
		if chunk.Shard == toShard {
			return nil
		}
		highest, err := m.highestVersion(ctx, ns)
		if err != nil {
			return err
		}

		moved := *chunk
		moved.Shard = toShard
		moved.Version = ChunkVersion{Major: highest.Major + 1, Minor: 0, Epoch: highest.Epoch}
		if err := m.replaceChunk(ctx, chunk, moved); err != nil {
			return err
		}

		m.log.Info("moved chunk", zap.String("ns", ns), zap.Stringer("min", chunk.Min), zap.String("from", chunk.Shard), zap.String("to", toShard))
		m.logChange(ctx, "moveChunk.commit", ns, map[string]interface{}{
			"min":     chunk.Min.String(),
			"max":     chunk.Max.String(),
			"from":    chunk.Shard,
			"to":      toShard,
			"lastmod": moved.Version.String(),
		})
		return nil
	})
}

// replaceChunk overwrites chunk with updated when chunk was not changed since it was read.
func (m *Manager) replaceChunk(ctx context.Context, chunk *Chunk, updated Chunk) error {
	doc, err := metadb.Encode(updated)
	if err != nil {
		return err
	}
	result, err := m.db.Update(ctx, ChunksKind,
		metadb.Filter{
			metadb.Eq(metadb.IDField, chunk.ID),
			metadb.Eq("shard", chunk.Shard),
			metadb.Eq("lastmod.major", chunk.Version.Major),
			metadb.Eq("lastmod.minor", chunk.Version.Minor),
		},
		metadb.Mutation{Replace: doc},
		metadb.UpdateOptions{})
	if err != nil {
		return err
	}
	if result.Matched == 0 {
		return ErrNoMatchingDocument.New("chunk %q changed concurrently", chunk.ID)
	}
	return nil
}

// ChunkOp is a single write of ApplyChunkOps.
type ChunkOp struct {
	Chunk  Chunk
	Delete bool
}

// ChunkPrecondition must match at least one chunk for ApplyChunkOps to proceed.
type ChunkPrecondition struct {
	Filter metadb.Filter
}

// ApplyChunkOps checks preconditions and then applies chunk writes of ns while
// holding the namespace and topology locks. Written chunks must name existing shards.
func (m *Manager) ApplyChunkOps(ctx context.Context, ns string, ops []ChunkOp, preconditions []ChunkPrecondition) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, op := range ops {
		if op.Chunk.NS != ns {
			return ErrIllegalOperation.New("chunk of %q in operations for %q", op.Chunk.NS, ns)
		}
		if !op.Delete && op.Chunk.Min.Compare(op.Chunk.Max) >= 0 {
			return ErrFailedToParse.New("chunk range [%s, %s) is empty", op.Chunk.Min, op.Chunk.Max)
		}
	}

	return m.withNamespaceLocks(ctx, ns, "applyChunkOps", func(ctx context.Context) error {
		for _, op := range ops {
			if op.Delete {
				continue
			}
			if _, err := m.GetShard(ctx, op.Chunk.Shard); err != nil {
				return err
			}
		}

		for _, precondition := range preconditions {
			count, err := m.db.Count(ctx, ChunksKind, precondition.Filter)
			if err != nil {
				return err
			}
			if count == 0 {
				return ErrNoMatchingDocument.New("precondition %v failed", precondition.Filter)
			}
		}

		for _, op := range ops {
			id := ChunkID(ns, op.Chunk.Min)
			if op.Delete {
				if _, err := m.db.Remove(ctx, ChunksKind, metadb.Filter{metadb.Eq(metadb.IDField, id)}, 1); err != nil {
					return err
				}
				continue
			}
			op.Chunk.ID = id
			if err := m.replace(ctx, ChunksKind, id, op.Chunk); err != nil {
				return err
			}
		}

		m.logChange(ctx, "applyChunkOps", ns, map[string]interface{}{"ops": len(ops)})
		return nil
	})
}
