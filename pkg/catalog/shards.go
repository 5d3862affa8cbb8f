// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

// maxNameAttempts bounds the retries when a generated shard name is taken concurrently.
const maxNameAttempts = 5

var generatedShardName = regexp.MustCompile(`^shard(\d+)$`)

// AddShard registers a new shard and the databases it already holds.
// When proposedName is nil a name is derived from the endpoint or generated.
func (m *Manager) AddShard(ctx context.Context, proposedName *string, endpoint string, maxSizeBytes int64) (id string, err error) {
	defer mon.Task()(&ctx)(&err)

	host, err := ParseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	if maxSizeBytes < 0 {
		return "", ErrFailedToParse.New("negative maxSize %d", maxSizeBytes)
	}
	if proposedName != nil {
		if err := ValidateShardID(*proposedName); err != nil {
			return "", err
		}
	}

	err = m.withLock(ctx, distlock.ShardTopology, "addShard "+endpoint, func(ctx context.Context) error {
		id, err = m.addShard(ctx, proposedName, host, endpoint, maxSizeBytes)
		return err
	})
	return id, err
}

func (m *Manager) addShard(ctx context.Context, proposedName *string, host, endpoint string, maxSizeBytes int64) (string, error) {
	if proposedName != nil {
		if _, err := m.GetShard(ctx, *proposedName); err == nil {
			return "", ErrIllegalOperation.New("shard name %q already exists", *proposedName)
		} else if !ErrShardNotFound.Has(err) {
			return "", err
		}
	}

	registered, err := m.db.Count(ctx, ShardsKind, metadb.Filter{metadb.Eq("host", endpoint)})
	if err != nil {
		return "", err
	}
	if registered > 0 {
		return "", ErrIllegalOperation.New("host %q is already a shard", endpoint)
	}

	info, err := m.probe(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var databases []string
	for _, name := range info.Databases {
		if IsReservedDatabase(name) {
			continue
		}
		existing, err := m.findDatabase(ctx, name)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return "", ErrIllegalOperation.New("can't add shard %q because a local database %q exists in another shard %q",
				endpoint, name, existing.Primary)
		}
		databases = append(databases, name)
	}

	shard := Shard{
		Host:         endpoint,
		MaxSizeBytes: maxSizeBytes,
		Draining:     NotDraining,
	}

	for attempt := 0; ; attempt++ {
		switch {
		case proposedName != nil:
			shard.ID = *proposedName
		case attempt == 0:
			if name, ok := shardNameFromHost(host); ok {
				if _, err := m.GetShard(ctx, name); ErrShardNotFound.Has(err) {
					shard.ID = name
					break
				}
			}
			fallthrough
		default:
			shard.ID, err = m.generateNewShardName(ctx)
			if err != nil {
				return "", err
			}
		}

		err = m.insert(ctx, ShardsKind, shard)
		if err == nil {
			break
		}
		if !metadb.ErrDuplicateKey.Has(err) {
			return "", err
		}
		if proposedName != nil {
			return "", ErrIllegalOperation.New("shard name %q already exists", shard.ID)
		}
		if attempt+1 >= maxNameAttempts {
			return "", Error.New("unable to generate a unique shard name after %d attempts", maxNameAttempts)
		}
	}

	var added []string
	failed := map[string]string{}
	for _, name := range databases {
		db := Database{ID: strings.ToLower(name), Name: name, Primary: shard.ID}
		if err := m.insert(ctx, DatabasesKind, db); err != nil {
			// the shard is registered already, report the database and continue
			m.log.Warn("unable to register database of new shard",
				zap.String("shard", shard.ID), zap.String("database", name), zap.Error(err))
			failed[name] = err.Error()
			continue
		}
		added = append(added, name)
	}

	m.log.Info("added shard", zap.String("shard", shard.ID), zap.String("host", endpoint), zap.Strings("databases", added))
	details := map[string]interface{}{
		"name":      shard.ID,
		"host":      endpoint,
		"maxSize":   maxSizeBytes,
		"databases": added,
	}
	if len(failed) > 0 {
		details["failedDatabases"] = failed
	}
	m.logChange(ctx, "addShard", "", details)
	return shard.ID, nil
}

func (m *Manager) probe(ctx context.Context, endpoint string) (ShardInfo, error) {
	if m.prober == nil {
		return ShardInfo{}, nil
	}
	info, err := m.prober.Probe(ctx, endpoint)
	if err != nil {
		return ShardInfo{}, ErrShardUnreachable.New("%s: %v", endpoint, err)
	}
	return info, nil
}

// generateNewShardName returns "shardNNNN" above the highest generated name in use.
// The caller re-checks uniqueness with the insert of the shard document.
func (m *Manager) generateNewShardName(ctx context.Context) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	shards, err := m.GetAllShards(ctx)
	if err != nil {
		return "", err
	}

	next := 0
	for _, shard := range shards {
		match := generatedShardName.FindStringSubmatch(shard.ID)
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if n >= next {
			next = n + 1
		}
	}
	return fmt.Sprintf("shard%04d", next), nil
}

// GetShard returns the shard with the given id.
func (m *Manager) GetShard(ctx context.Context, id string) (_ *Shard, err error) {
	defer mon.Task()(&ctx)(&err)

	doc, err := m.db.Get(ctx, ShardsKind, id)
	if metadb.ErrNotFound.Has(err) {
		return nil, ErrShardNotFound.New("%q", id)
	}
	if err != nil {
		return nil, err
	}

	var shard Shard
	if err := metadb.Decode(doc, &shard); err != nil {
		return nil, err
	}
	return &shard, nil
}

// GetAllShards returns every shard sorted by id.
func (m *Manager) GetAllShards(ctx context.Context) (_ []Shard, err error) {
	defer mon.Task()(&ctx)(&err)

	docs, err := m.db.Find(ctx, ShardsKind, metadb.Query{Sort: metadb.Sort{metadb.Asc(metadb.IDField)}})
	if err != nil {
		return nil, err
	}

	shards := make([]Shard, 0, len(docs))
	err = decodeAll(docs, func(doc metadb.Document) error {
		var shard Shard
		if err := metadb.Decode(doc, &shard); err != nil {
			return err
		}
		shards = append(shards, shard)
		return nil
	})
	return shards, err
}

// ShardUsage is the placement footprint of a shard.
type ShardUsage struct {
	Shard  Shard
	Chunks int
}

// GetShardUsage returns every shard with its chunk count.
func (m *Manager) GetShardUsage(ctx context.Context) (_ []ShardUsage, err error) {
	defer mon.Task()(&ctx)(&err)

	shards, err := m.GetAllShards(ctx)
	if err != nil {
		return nil, err
	}

	usage := make([]ShardUsage, 0, len(shards))
	for _, shard := range shards {
		chunks, err := m.db.Count(ctx, ChunksKind, metadb.Filter{metadb.Eq("shard", shard.ID)})
		if err != nil {
			return nil, err
		}
		usage = append(usage, ShardUsage{Shard: shard, Chunks: chunks})
	}
	return usage, nil
}

// SelectShardForNewDatabase returns the non-draining shard with the fewest
// chunks. Ties go to the lowest shard id.
func (m *Manager) SelectShardForNewDatabase(ctx context.Context) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	usage, err := m.GetShardUsage(ctx)
	if err != nil {
		return "", err
	}

	best := -1
	for i := range usage {
		if usage[i].Shard.IsDraining() {
			continue
		}
		if best < 0 || usage[i].Chunks < usage[best].Chunks {
			best = i
		}
	}
	if best < 0 {
		return "", ErrShardNotFound.New("no eligible shard for a new database")
	}
	return usage[best].Shard.ID, nil
}

// insert encodes value and inserts it as a document of kind.
func (m *Manager) insert(ctx context.Context, kind metadb.Kind, value interface{}) error {
	doc, err := metadb.Encode(value)
	if err != nil {
		return err
	}
	return m.db.Insert(ctx, kind, doc)
}

// replace upserts value as the document of kind with the given id.
func (m *Manager) replace(ctx context.Context, kind metadb.Kind, id string, value interface{}) error {
	doc, err := metadb.Encode(value)
	if err != nil {
		return err
	}
	_, err = m.db.Update(ctx, kind, metadb.Filter{metadb.Eq(metadb.IDField, id)}, metadb.Mutation{Replace: doc}, metadb.UpdateOptions{Upsert: true})
	return err
}
