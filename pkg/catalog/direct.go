// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

// directKind maps an admin or config namespace onto a document kind.
// "config.shards" is the shards kind, "admin.system.users" keeps its full name.
func directKind(ns string) (metadb.Kind, error) {
	db, collection, err := ParseNamespace(ns)
	if err != nil {
		return "", err
	}
	switch db {
	case ConfigDB:
		return metadb.Kind(collection), nil
	case AdminDB:
		return metadb.Kind(ns), nil
	default:
		return "", ErrIllegalOperation.New("direct writes are only allowed to %s and %s namespaces, not %q", AdminDB, ConfigDB, ns)
	}
}

// Insert writes documents directly into an admin or config namespace.
// Documents without an _id are stored under a generated one.
//
// Deprecated: direct writes bypass catalog invariants and exist only for callers that have not moved to the typed operations.
func (m *Manager) Insert(ctx context.Context, ns string, docs ...metadb.Document) (err error) {
	defer mon.Task()(&ctx)(&err)

	kind, err := directKind(ns)
	if err != nil {
		return err
	}

	withIDs := make([]metadb.Document, 0, len(docs))
	for _, doc := range docs {
		if _, ok := doc[metadb.IDField]; !ok {
			doc = doc.Clone()
			doc[metadb.IDField] = uuid.New().String()
		}
		withIDs = append(withIDs, doc)
	}
	return m.db.Insert(ctx, kind, withIDs...)
}

// Update changes documents directly in an admin or config namespace.
//
// Deprecated: see Insert.
func (m *Manager) Update(ctx context.Context, ns string, filter metadb.Filter, mutation metadb.Mutation, opts metadb.UpdateOptions) (_ metadb.UpdateResult, err error) {
	defer mon.Task()(&ctx)(&err)

	kind, err := directKind(ns)
	if err != nil {
		return metadb.UpdateResult{}, err
	}
	return m.db.Update(ctx, kind, filter, mutation, opts)
}

// Remove deletes documents directly from an admin or config namespace.
//
// Deprecated: see Insert.
func (m *Manager) Remove(ctx context.Context, ns string, filter metadb.Filter, limit int) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	kind, err := directKind(ns)
	if err != nil {
		return 0, err
	}
	return m.db.Remove(ctx, kind, filter, limit)
}

// RunReadCommand runs a read only command on the catalog servers.
func (m *Manager) RunReadCommand(ctx context.Context, db string, command metadb.Document) (_ metadb.Document, err error) {
	defer mon.Task()(&ctx)(&err)
	return m.runCommand(ctx, db, command)
}

// RunUserManagementReadCommand runs a user management read command.
func (m *Manager) RunUserManagementReadCommand(ctx context.Context, db string, command metadb.Document) (_ metadb.Document, err error) {
	defer mon.Task()(&ctx)(&err)
	return m.runCommand(ctx, db, command)
}

// RunUserManagementWriteCommand runs a user management write command while
// holding the authorization data lock.
func (m *Manager) RunUserManagementWriteCommand(ctx context.Context, name, db string, command metadb.Document) (result metadb.Document, err error) {
	defer mon.Task()(&ctx)(&err)

	err = m.withLock(ctx, distlock.AuthorizationData, name, func(ctx context.Context) error {
		result, err = m.runCommand(ctx, db, command)
		return err
	})
	return result, err
}

func (m *Manager) runCommand(ctx context.Context, db string, command metadb.Document) (metadb.Document, error) {
	if m.commands == nil {
		return nil, Error.New("no command runner configured")
	}
	if len(command) == 0 {
		return nil, ErrFailedToParse.New("empty command")
	}
	if strings.TrimSpace(db) == "" {
		return nil, ErrFailedToParse.New("empty database name")
	}
	return m.commands.RunCommand(ctx, db, command)
}
