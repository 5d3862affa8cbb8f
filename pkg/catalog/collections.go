// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

// ShardCollection shards ns on key. The initial chunks are bounded by
// splitPoints and placed round robin over shardIDs, or all on the primary
// shard of the database when shardIDs is empty.
//
// Chunks are written before the collection document, so an interrupted call
// leaves no collection and its orphaned chunks are replaced by the next attempt.
func (m *Manager) ShardCollection(ctx context.Context, ns string, key KeyPattern, unique bool, splitPoints []Bound, shardIDs []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	dbName, _, err := ParseNamespace(ns)
	if err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	points, err := sortedSplitPoints(key, splitPoints)
	if err != nil {
		return err
	}

	return m.withNamespaceLocks(ctx, ns, "shardCollection", func(ctx context.Context) error {
		db, err := m.GetDatabase(ctx, dbName)
		if err != nil {
			return err
		}
		if !db.Partitioned {
			return ErrIllegalOperation.New("sharding not enabled for database %q", dbName)
		}

		if _, err := m.GetCollection(ctx, ns); err == nil {
			return ErrNamespaceExists.New("collection %q is already sharded", ns)
		} else if !ErrNamespaceNotFound.Has(err) {
			return err
		}

		placement, err := m.placementShards(ctx, db, shardIDs)
		if err != nil {
			return err
		}

		m.logChange(ctx, "shardCollection.start", ns, map[string]interface{}{
			"shardKey":   key.String(),
			"unique":     unique,
			"primary":    db.Primary,
			"initShards": placement,
			"numChunks":  len(points) + 1,
		})

		if _, err := m.db.Remove(ctx, ChunksKind, metadb.Filter{metadb.Eq("ns", ns)}, 0); err != nil {
			return err
		}

		epoch := uuid.New().String()
		bounds := append(append([]Bound{GlobalMin(len(key))}, points...), GlobalMax(len(key)))
		var last ChunkVersion
		for i := 0; i+1 < len(bounds); i++ {
			chunk := Chunk{
				ID:      ChunkID(ns, bounds[i]),
				NS:      ns,
				Min:     bounds[i],
				Max:     bounds[i+1],
				Shard:   placement[i%len(placement)],
				Version: ChunkVersion{Major: 1, Minor: uint32(i), Epoch: epoch},
			}
			if err := m.insert(ctx, ChunksKind, chunk); err != nil {
				return err
			}
			last = chunk.Version
		}

		collection := Collection{
			NS:      ns,
			Key:     key,
			Unique:  unique,
			Epoch:   epoch,
			LastMod: time.Now().UTC(),
		}
		if err := m.replace(ctx, CollectionsKind, ns, collection); err != nil {
			return err
		}

		m.log.Info("sharded collection", zap.String("ns", ns), zap.Stringer("key", key), zap.Int("chunks", len(bounds)-1))
		m.logChange(ctx, "shardCollection", ns, map[string]interface{}{"version": last.String()})
		return nil
	})
}

// withNamespaceLocks takes the namespace lock and then the topology lock, so
// shards receiving chunks of ns cannot finish draining concurrently.
func (m *Manager) withNamespaceLocks(ctx context.Context, ns, reason string, fn func(ctx context.Context) error) error {
	return m.withLock(ctx, distlock.NamespaceLock(ns), reason, func(ctx context.Context) error {
		return m.withLock(ctx, distlock.ShardTopology, reason+" "+ns, fn)
	})
}

// sortedSplitPoints checks split points against the key and sorts them.
func sortedSplitPoints(key KeyPattern, splitPoints []Bound) ([]Bound, error) {
	points := append([]Bound(nil), splitPoints...)
	sort.Slice(points, func(i, k int) bool { return points[i].Compare(points[k]) < 0 })

	min, max := GlobalMin(len(key)), GlobalMax(len(key))
	for i, point := range points {
		if len(point) != len(key) {
			return nil, ErrFailedToParse.New("split point %s does not match key %s", point, key)
		}
		if point.Compare(min) <= 0 || point.Compare(max) >= 0 {
			return nil, ErrFailedToParse.New("split point %s is outside of the key space", point)
		}
		if i > 0 && points[i-1].Compare(point) == 0 {
			return nil, ErrFailedToParse.New("duplicate split point %s", point)
		}
	}
	return points, nil
}

// placementShards returns the sorted shards receiving the initial chunks.
func (m *Manager) placementShards(ctx context.Context, db *Database, shardIDs []string) ([]string, error) {
	if len(shardIDs) == 0 {
		// all on the primary, concurrent collection creation may pile up on one shard
		if _, err := m.GetShard(ctx, db.Primary); err != nil {
			return nil, err
		}
		return []string{db.Primary}, nil
	}

	seen := map[string]bool{}
	var placement []string
	for _, id := range shardIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		shard, err := m.GetShard(ctx, id)
		if err != nil {
			return nil, err
		}
		if shard.IsDraining() {
			return nil, ErrShardNotFound.New("shard %q is draining", id)
		}
		placement = append(placement, id)
	}
	sort.Strings(placement)
	return placement, nil
}

// DropCollection removes the collection document and then its chunks and tags.
func (m *Manager) DropCollection(ctx context.Context, ns string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, _, err := ParseNamespace(ns); err != nil {
		return err
	}

	return m.withLock(ctx, distlock.NamespaceLock(ns), "dropCollection", func(ctx context.Context) error {
		if _, err := m.GetCollection(ctx, ns); err != nil {
			return err
		}

		m.logChange(ctx, "dropCollection.start", ns, nil)

		if _, err := m.db.Remove(ctx, CollectionsKind, metadb.Filter{metadb.Eq(metadb.IDField, ns)}, 1); err != nil {
			return err
		}
		chunks, err := m.db.Remove(ctx, ChunksKind, metadb.Filter{metadb.Eq("ns", ns)}, 0)
		if err != nil {
			return err
		}
		tags, err := m.db.Remove(ctx, TagsKind, metadb.Filter{metadb.Eq("ns", ns)}, 0)
		if err != nil {
			return err
		}

		m.log.Info("dropped collection", zap.String("ns", ns), zap.Int("chunks", chunks), zap.Int("tags", tags))
		m.logChange(ctx, "dropCollection", ns, nil)
		return nil
	})
}

// GetCollection returns the live collection ns.
func (m *Manager) GetCollection(ctx context.Context, ns string) (_ *Collection, err error) {
	defer mon.Task()(&ctx)(&err)

	doc, err := m.db.Get(ctx, CollectionsKind, ns)
	if metadb.ErrNotFound.Has(err) {
		return nil, ErrNamespaceNotFound.New("%q", ns)
	}
	if err != nil {
		return nil, err
	}

	var collection Collection
	if err := metadb.Decode(doc, &collection); err != nil {
		return nil, err
	}
	if collection.Dropped {
		return nil, ErrNamespaceNotFound.New("%q is dropped", ns)
	}
	return &collection, nil
}

// UpdateCollection writes the collection document of ns, creating it when missing.
func (m *Manager) UpdateCollection(ctx context.Context, ns string, collection Collection) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, _, err := ParseNamespace(ns); err != nil {
		return err
	}
	collection.NS = ns
	return m.replace(ctx, CollectionsKind, ns, collection)
}

// GetCollections returns the live collections sorted by namespace, limited to
// dbName when it is not nil.
func (m *Manager) GetCollections(ctx context.Context, dbName *string) (_ []Collection, err error) {
	defer mon.Task()(&ctx)(&err)

	filter := metadb.Filter{metadb.Ne("dropped", true)}
	if dbName != nil {
		filter = append(filter, metadb.HasPrefix(metadb.IDField, *dbName+".")...)
	}

	docs, err := m.db.Find(ctx, CollectionsKind, metadb.Query{Filter: filter})
	if err != nil {
		return nil, err
	}

	collections := make([]Collection, 0, len(docs))
	err = decodeAll(docs, func(doc metadb.Document) error {
		var collection Collection
		if err := metadb.Decode(doc, &collection); err != nil {
			return err
		}
		collections = append(collections, collection)
		return nil
	})
	return collections, err
}
