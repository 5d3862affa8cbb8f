// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"storj.io/shardcatalog/pkg/metadb"
)

// Document kinds of the catalog.
const (
	ShardsKind      metadb.Kind = "shards"
	DatabasesKind   metadb.Kind = "databases"
	CollectionsKind metadb.Kind = "collections"
	ChunksKind      metadb.Kind = "chunks"
	TagsKind        metadb.Kind = "tags"
	SettingsKind    metadb.Kind = "settings"
	VersionKind     metadb.Kind = "version"
)

// DrainState is the removal progress of a shard.
type DrainState string

// Shard drain states.
const (
	NotDraining    DrainState = "NOT_DRAINING"
	DrainStarted   DrainState = "STARTED"
	DrainOngoing   DrainState = "ONGOING"
	DrainCompleted DrainState = "COMPLETED"
)

// Shard is a data holding member of the cluster.
type Shard struct {
	ID           string     `json:"_id"`
	Host         string     `json:"host"`
	MaxSizeBytes int64      `json:"maxSizeBytes"`
	Draining     DrainState `json:"draining"`
	Tags         []string   `json:"tags,omitempty"`
}

// State returns the drain state, treating a missing state as not draining.
func (shard *Shard) State() DrainState {
	if shard.Draining == "" {
		return NotDraining
	}
	return shard.Draining
}

// IsDraining returns whether the shard is being removed.
func (shard *Shard) IsDraining() bool { return shard.State() != NotDraining }

// Database describes where a database lives. ID is the lowercased name.
type Database struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Primary     string `json:"primary"`
	Partitioned bool   `json:"partitioned"`
	Version     int64  `json:"version"`
}

// Collection describes a sharded collection.
type Collection struct {
	NS      string     `json:"_id"`
	Key     KeyPattern `json:"key"`
	Unique  bool       `json:"unique"`
	Epoch   string     `json:"epoch"`
	LastMod time.Time  `json:"lastmod"`
	Dropped bool       `json:"dropped"`
}

// ChunkVersion orders the changes to the chunks of a collection. Epoch changes
// whenever the collection is sharded again.
type ChunkVersion struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
	Epoch string `json:"epoch"`
}

// Less compares major and minor of versions of the same epoch.
func (version ChunkVersion) Less(other ChunkVersion) bool {
	if version.Major != other.Major {
		return version.Major < other.Major
	}
	return version.Minor < other.Minor
}

// String implements fmt.Stringer.
func (version ChunkVersion) String() string {
	return fmt.Sprintf("%d|%d||%s", version.Major, version.Minor, version.Epoch)
}

// Chunk is a range of a collection owned by a single shard.
type Chunk struct {
	ID      string       `json:"_id"`
	NS      string       `json:"ns"`
	Min     Bound        `json:"min"`
	Max     Bound        `json:"max"`
	Shard   string       `json:"shard"`
	Version ChunkVersion `json:"lastmod"`
	Jumbo   bool         `json:"jumbo,omitempty"`
}

// Range returns the key range of the chunk.
func (chunk *Chunk) Range() Range { return Range{Min: chunk.Min, Max: chunk.Max} }

// Tag assigns a key range of a collection to a zone.
type Tag struct {
	ID  string `json:"_id"`
	NS  string `json:"ns"`
	Tag string `json:"tag"`
	Min Bound  `json:"min"`
	Max Bound  `json:"max"`
}

// Range returns the key range of the tag.
func (tag *Tag) Range() Range { return Range{Min: tag.Min, Max: tag.Max} }

// Setting is a cluster wide configuration value.
type Setting struct {
	Key   string          `json:"_id"`
	Value json.RawMessage `json:"value"`
}

// Well known settings.
const (
	ChunkSizeSetting = "chunksize"
	BalancerSetting  = "balancer"
)

// VersionInfo is the singleton describing the catalog schema version.
type VersionInfo struct {
	ID                   string `json:"_id"`
	MinCompatibleVersion int    `json:"minCompatibleVersion"`
	CurrentVersion       int    `json:"currentVersion"`
	ClusterID            string `json:"clusterId"`
	UpgradeState         bool   `json:"upgradeState,omitempty"`
}

// DrainProgress is the result of a RemoveShard call.
type DrainProgress struct {
	Status          DrainState
	RemainingChunks int
	DBsToMove       []string
}

// ChunkID returns the identifier of the chunk of ns starting at min.
func ChunkID(ns string, min Bound) string { return ns + "-" + min.String() }

// decodeAll calls decode for every document and stops at the first failure.
func decodeAll(docs []metadb.Document, decode func(doc metadb.Document) error) error {
	for _, doc := range docs {
		if err := decode(doc); err != nil {
			return err
		}
	}
	return nil
}
