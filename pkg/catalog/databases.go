// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

// CreateDatabase registers a new unsharded database on the least loaded shard.
func (m *Manager) CreateDatabase(ctx context.Context, name string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validateUserDatabase(name); err != nil {
		return err
	}

	return m.withDatabaseLocks(ctx, name, "createDatabase", func(ctx context.Context) error {
		if _, err := m.checkDBDoesNotExist(ctx, name); err != nil {
			return err
		}
		db, err := m.createDatabase(ctx, name, false)
		if err != nil {
			return err
		}
		m.logChange(ctx, "createDatabase", name, map[string]interface{}{"primary": db.Primary})
		return nil
	})
}

// EnableSharding marks the database as partitioned, creating it when needed.
// Enabling sharding on an already partitioned database is a no-op.
func (m *Manager) EnableSharding(ctx context.Context, name string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validateUserDatabase(name); err != nil {
		return err
	}

	return m.withDatabaseLocks(ctx, name, "enableSharding", func(ctx context.Context) error {
		existing, err := m.checkDBDoesNotExist(ctx, name)
		switch {
		case err == nil:
			db, err := m.createDatabase(ctx, name, true)
			if err != nil {
				return err
			}
			m.logChange(ctx, "enableSharding", name, map[string]interface{}{"primary": db.Primary})
			return nil

		case ErrNamespaceExists.Has(err):
			if existing.Partitioned {
				return nil
			}
			_, err = m.db.Update(ctx, DatabasesKind,
				metadb.Filter{metadb.Eq(metadb.IDField, existing.ID), metadb.Eq("name", name)},
				metadb.Mutation{Set: map[string]interface{}{"partitioned": true}},
				metadb.UpdateOptions{})
			if err != nil {
				return err
			}
			m.logChange(ctx, "enableSharding", name, map[string]interface{}{"primary": existing.Primary})
			return nil

		default:
			return err
		}
	})
}

func validateUserDatabase(name string) error {
	if err := ValidateDatabaseName(name); err != nil {
		return err
	}
	if IsReservedDatabase(name) {
		return ErrIllegalOperation.New("database %q is reserved", name)
	}
	return nil
}

// withDatabaseLocks takes the database lock and then the topology lock, so the
// primary shard chosen for the database cannot finish draining concurrently.
func (m *Manager) withDatabaseLocks(ctx context.Context, name, reason string, fn func(ctx context.Context) error) error {
	return m.withLock(ctx, distlock.DatabaseLock(name), reason+" "+name, func(ctx context.Context) error {
		return m.withLock(ctx, distlock.ShardTopology, reason+" "+name, fn)
	})
}

// checkDBDoesNotExist returns ErrNamespaceExists with the database when name
// exists exactly and ErrDatabaseDifferCase when it exists in another case.
func (m *Manager) checkDBDoesNotExist(ctx context.Context, name string) (*Database, error) {
	existing, err := m.findDatabase(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if existing.Name == name {
		return existing, ErrNamespaceExists.New("database %q", name)
	}
	return existing, ErrDatabaseDifferCase.New("can't have 2 databases that just differ on case have: %s want to add: %s", existing.Name, name)
}

// findDatabase returns the database matching name case insensitively, or nil.
func (m *Manager) findDatabase(ctx context.Context, name string) (*Database, error) {
	doc, err := m.db.Get(ctx, DatabasesKind, strings.ToLower(name))
	if metadb.ErrNotFound.Has(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var db Database
	if err := metadb.Decode(doc, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

func (m *Manager) createDatabase(ctx context.Context, name string, partitioned bool) (*Database, error) {
	primary, err := m.SelectShardForNewDatabase(ctx)
	if err != nil {
		return nil, err
	}

	db := &Database{
		ID:          strings.ToLower(name),
		Name:        name,
		Primary:     primary,
		Partitioned: partitioned,
		Version:     1,
	}
	if err := m.insert(ctx, DatabasesKind, db); err != nil {
		if metadb.ErrDuplicateKey.Has(err) {
			// written by a writer not holding the lock, report it the same way
			if _, err := m.checkDBDoesNotExist(ctx, name); err != nil {
				return nil, err
			}
		}
		return nil, err
	}

	m.log.Info("created database", zap.String("database", name), zap.String("primary", primary), zap.Bool("partitioned", partitioned))
	return db, nil
}

// GetDatabase returns the database with exactly the given name. The admin and
// config databases always live on the catalog servers.
func (m *Manager) GetDatabase(ctx context.Context, name string) (_ *Database, err error) {
	defer mon.Task()(&ctx)(&err)

	if name == AdminDB || name == ConfigDB {
		return &Database{ID: name, Name: name, Primary: ConfigDB}, nil
	}

	db, err := m.findDatabase(ctx, name)
	if err != nil {
		return nil, err
	}
	if db == nil || db.Name != name {
		return nil, ErrDatabaseNotFound.New("%q", name)
	}
	return db, nil
}

// UpdateDatabase writes the database document of name, creating it when missing.
func (m *Manager) UpdateDatabase(ctx context.Context, name string, db Database) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateDatabaseName(name); err != nil {
		return err
	}
	db.ID = strings.ToLower(name)
	if db.Name == "" {
		db.Name = name
	}
	return m.replace(ctx, DatabasesKind, db.ID, db)
}

// GetDatabasesForShard returns the names of databases whose primary is the shard.
func (m *Manager) GetDatabasesForShard(ctx context.Context, shardID string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	docs, err := m.db.Find(ctx, DatabasesKind, metadb.Query{
		Filter: metadb.Filter{metadb.Eq("primary", shardID)},
		Sort:   metadb.Sort{metadb.Asc("name")},
	})
	if err != nil {
		return nil, err
	}

	names := []string{}
	err = decodeAll(docs, func(doc metadb.Document) error {
		var db Database
		if err := metadb.Decode(doc, &db); err != nil {
			return err
		}
		names = append(names, db.Name)
		return nil
	})
	return names, err
}

// GetAllDatabases returns every database sorted by name.
func (m *Manager) GetAllDatabases(ctx context.Context) (_ []Database, err error) {
	defer mon.Task()(&ctx)(&err)

	docs, err := m.db.Find(ctx, DatabasesKind, metadb.Query{Sort: metadb.Sort{metadb.Asc("name")}})
	if err != nil {
		return nil, err
	}

	dbs := make([]Database, 0, len(docs))
	err = decodeAll(docs, func(doc metadb.Document) error {
		var db Database
		if err := metadb.Decode(doc, &db); err != nil {
			return err
		}
		dbs = append(dbs, db)
		return nil
	})
	return dbs, err
}

// MovePrimary reassigns the primary shard of a database. The target must not be draining.
func (m *Manager) MovePrimary(ctx context.Context, name, toShard string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validateUserDatabase(name); err != nil {
		return err
	}

	return m.withDatabaseLocks(ctx, name, "movePrimary", func(ctx context.Context) error {
		db, err := m.GetDatabase(ctx, name)
		if err != nil {
			return err
		}
		target, err := m.GetShard(ctx, toShard)
		if err != nil {
			return err
		}
		if target.IsDraining() {
			return ErrIllegalOperation.New("can't move primary of %q to draining shard %q", name, toShard)
		}
		if db.Primary == toShard {
			return nil
		}

		result, err := m.db.Update(ctx, DatabasesKind,
			metadb.Filter{metadb.Eq(metadb.IDField, db.ID), metadb.Eq("primary", db.Primary)},
			metadb.Mutation{
				Set: map[string]interface{}{"primary": toShard},
				Inc: map[string]int64{"version": 1},
			},
			metadb.UpdateOptions{})
		if err != nil {
			return err
		}
		if result.Matched == 0 {
			return Error.New("database %q changed while moving its primary", name)
		}

		m.log.Info("moved primary", zap.String("database", name), zap.String("from", db.Primary), zap.String("to", toShard))
		m.logChange(ctx, "movePrimary", name, map[string]interface{}{"from": db.Primary, "to": toShard})
		return nil
	})
}
