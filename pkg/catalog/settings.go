// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"encoding/json"

	"storj.io/shardcatalog/pkg/metadb"
)

// GetGlobalSettings returns the cluster setting stored under key.
func (m *Manager) GetGlobalSettings(ctx context.Context, key string) (_ *Setting, err error) {
	defer mon.Task()(&ctx)(&err)

	doc, err := m.db.Get(ctx, SettingsKind, key)
	if metadb.ErrNotFound.Has(err) {
		return nil, ErrNoMatchingDocument.New("setting %q", key)
	}
	if err != nil {
		return nil, err
	}

	var setting Setting
	if err := metadb.Decode(doc, &setting); err != nil {
		return nil, err
	}
	return &setting, nil
}

// UpdateGlobalSettings stores value as the JSON value of the setting key.
func (m *Manager) UpdateGlobalSettings(ctx context.Context, key string, value interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	if key == "" {
		return ErrFailedToParse.New("empty setting key")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := m.replace(ctx, SettingsKind, key, Setting{Key: key, Value: raw}); err != nil {
		return err
	}
	m.logChange(ctx, "updateSettings", "", map[string]interface{}{"key": key})
	return nil
}
