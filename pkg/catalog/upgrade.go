// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

// Catalog schema versions understood by this manager.
const (
	CurrentVersion       = 6
	MinCompatibleVersion = 5

	versionID = "1"
)

// upgradeStep moves the catalog from version from to from+1.
type upgradeStep struct {
	from int
	run  func(ctx context.Context, m *Manager) error
}

var upgradeSteps = []upgradeStep{
	{from: 5, run: upgradeV5ToV6},
}

// CheckAndUpgrade verifies that the catalog version is compatible. Unless
// checkOnly is set, it initializes an empty catalog and upgrades an older one.
func (m *Manager) CheckAndUpgrade(ctx context.Context, checkOnly bool) (_ VersionInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := m.readVersion(ctx)
	if err != nil {
		return VersionInfo{}, err
	}

	if info == nil {
		empty, err := m.isEmpty(ctx)
		if err != nil {
			return VersionInfo{}, err
		}
		if !empty {
			// catalogs written before the version document existed
			legacy := VersionInfo{ID: versionID, MinCompatibleVersion: MinCompatibleVersion, CurrentVersion: MinCompatibleVersion}
			return m.checkVersion(ctx, legacy, false, checkOnly)
		}
		if checkOnly {
			return VersionInfo{}, ErrUpgradeRequired.New("catalog is not initialized")
		}
		return m.initialize(ctx)
	}

	return m.checkVersion(ctx, *info, true, checkOnly)
}

func (m *Manager) checkVersion(ctx context.Context, info VersionInfo, stored, checkOnly bool) (VersionInfo, error) {
	if info.MinCompatibleVersion > CurrentVersion {
		return info, ErrIncompatibleVersion.New("catalog requires version %d, this manager supports %d", info.MinCompatibleVersion, CurrentVersion)
	}
	if info.CurrentVersion >= CurrentVersion && !info.UpgradeState {
		return info, nil
	}
	if info.CurrentVersion < MinCompatibleVersion {
		return info, ErrUpgradeRequired.New("catalog version %d must first be upgraded to %d", info.CurrentVersion, MinCompatibleVersion)
	}
	if checkOnly {
		if info.UpgradeState {
			return info, ErrUpgradeRequired.New("an upgrade of the catalog is in progress")
		}
		return info, nil
	}

	err := m.withLock(ctx, distlock.ShardTopology, "upgrade", func(ctx context.Context) error {
		// another manager may have finished while we waited for the lock
		current, err := m.readVersion(ctx)
		if err != nil {
			return err
		}
		if current != nil {
			info, stored = *current, true
			if info.CurrentVersion >= CurrentVersion && !info.UpgradeState {
				return nil
			}
		}

		info, err = m.upgrade(ctx, info, stored)
		return err
	})
	return info, err
}

func (m *Manager) upgrade(ctx context.Context, info VersionInfo, stored bool) (VersionInfo, error) {
	from := info.CurrentVersion
	m.log.Info("upgrading catalog", zap.Int("from", from), zap.Int("to", CurrentVersion))

	info.UpgradeState = true
	if info.ClusterID == "" {
		info.ClusterID = uuid.New().String()
	}
	if err := m.writeVersion(ctx, info, stored); err != nil {
		return info, err
	}

	for _, step := range upgradeSteps {
		if step.from < info.CurrentVersion {
			continue
		}
		if err := step.run(ctx, m); err != nil {
			return info, Error.New("upgrade from version %d failed: %v", step.from, err)
		}
		info.CurrentVersion = step.from + 1
	}

	info.CurrentVersion = CurrentVersion
	info.MinCompatibleVersion = MinCompatibleVersion
	info.UpgradeState = false
	if err := m.writeVersion(ctx, info, true); err != nil {
		return info, err
	}

	m.logChange(ctx, "upgrade", "", map[string]interface{}{"from": from, "to": CurrentVersion})
	return info, nil
}

func (m *Manager) initialize(ctx context.Context) (VersionInfo, error) {
	info := VersionInfo{
		ID:                   versionID,
		MinCompatibleVersion: MinCompatibleVersion,
		CurrentVersion:       CurrentVersion,
		ClusterID:            uuid.New().String(),
	}

	err := m.insert(ctx, VersionKind, info)
	if metadb.ErrDuplicateKey.Has(err) {
		// initialized concurrently
		return m.CheckAndUpgrade(ctx, true)
	}
	if err != nil {
		return VersionInfo{}, err
	}

	m.log.Info("initialized catalog", zap.String("cluster", info.ClusterID))
	return info, nil
}

func (m *Manager) readVersion(ctx context.Context) (*VersionInfo, error) {
	doc, err := m.db.Get(ctx, VersionKind, versionID)
	if metadb.ErrNotFound.Has(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var info VersionInfo
	if err := metadb.Decode(doc, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (m *Manager) writeVersion(ctx context.Context, info VersionInfo, stored bool) error {
	info.ID = versionID
	if !stored {
		return m.insert(ctx, VersionKind, info)
	}
	return m.replace(ctx, VersionKind, versionID, info)
}

// isEmpty returns whether the catalog holds no shards and no databases.
func (m *Manager) isEmpty(ctx context.Context) (bool, error) {
	for _, kind := range []metadb.Kind{ShardsKind, DatabasesKind} {
		count, err := m.db.Count(ctx, kind, nil)
		if err != nil {
			return false, err
		}
		if count > 0 {
			return false, nil
		}
	}
	return true, nil
}

// upgradeV5ToV6 writes an explicit drain state on every shard and keys
// databases by their lowercased name.
func upgradeV5ToV6(ctx context.Context, m *Manager) error {
	for _, backfill := range []struct {
		filter metadb.Filter
		state  DrainState
	}{
		{metadb.Filter{metadb.Eq("draining", nil)}, NotDraining},
		{metadb.Filter{metadb.Eq("draining", false)}, NotDraining},
		{metadb.Filter{metadb.Eq("draining", true)}, DrainOngoing},
	} {
		_, err := m.db.Update(ctx, ShardsKind, backfill.filter,
			metadb.Mutation{Set: map[string]interface{}{"draining": string(backfill.state)}},
			metadb.UpdateOptions{Multi: true})
		if err != nil {
			return err
		}
	}

	docs, err := m.db.Find(ctx, DatabasesKind, metadb.Query{})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		id := doc.ID()
		if _, ok := doc["name"].(string); !ok {
			doc["name"] = id
		}
		lower := strings.ToLower(id)
		if lower == id {
			if _, err := m.db.Update(ctx, DatabasesKind, metadb.Filter{metadb.Eq(metadb.IDField, id)},
				metadb.Mutation{Set: map[string]interface{}{"name": doc["name"]}}, metadb.UpdateOptions{}); err != nil {
				return err
			}
			continue
		}

		rekeyed := doc.Clone()
		rekeyed[metadb.IDField] = lower
		err := m.db.Insert(ctx, DatabasesKind, rekeyed)
		if metadb.ErrDuplicateKey.Has(err) {
			// an interrupted upgrade may have copied the document already
			existing, findErr := m.db.Get(ctx, DatabasesKind, lower)
			if findErr != nil {
				return findErr
			}
			if existing["name"] != rekeyed["name"] {
				return ErrDatabaseDifferCase.New("databases %q and %q differ only in case", rekeyed["name"], existing["name"])
			}
			err = nil
		}
		if err != nil {
			return err
		}
		if _, err := m.db.Remove(ctx, DatabasesKind, metadb.Filter{metadb.Eq(metadb.IDField, id)}, 1); err != nil {
			return err
		}
	}
	return nil
}
