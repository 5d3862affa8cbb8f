// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/shardcatalog/pkg/catalog"
	"storj.io/shardcatalog/pkg/cfgstruct"
	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/distlock/redislock"
	"storj.io/shardcatalog/pkg/metadb"
	"storj.io/shardcatalog/pkg/process"
	"storj.io/shardcatalog/storage"
	"storj.io/shardcatalog/storage/boltdb"
	"storj.io/shardcatalog/storage/postgreskv"
	"storj.io/shardcatalog/storage/sqlitekv"
	"storj.io/shardcatalog/storage/storelogger"
	"storj.io/shardcatalog/storage/teststore"
)

// Config configures the catalog the commands operate on.
type Config struct {
	Store   StoreConfig
	Locks   LockConfig
	Probe   ProbeConfig
	Catalog catalog.Config
}

// StoreConfig selects the metadata store backend.
type StoreConfig struct {
	Backend string `help:"metadata store backend: memory, bolt, postgres or sqlite" default:"bolt"`
	Path    string `help:"database file of the bolt and sqlite backends" default:"catalog.db"`
	URL     string `help:"connection string of the postgres backend" default:"postgres://localhost/catalog?sslmode=disable"`
	Debug   bool   `help:"log every store operation at debug level" default:"false"`
}

// LockConfig selects the distributed lock backend.
type LockConfig struct {
	Backend string `help:"lock backend: local or redis" default:"local"`
	Local   distlock.LocalConfig
	Redis   redislock.Config
}

// ProbeConfig configures how new shards are contacted.
type ProbeConfig struct {
	Timeout time.Duration `help:"how long a new shard has to accept a connection, 0 skips the check" default:"5s"`
}

var (
	rootCmd = &cobra.Command{
		Use:   "catalogd",
		Short: "Administer the metadata catalog of a sharded cluster",
	}

	runCfg Config
)

func init() {
	cfgstruct.Bind(rootCmd.PersistentFlags(), &runCfg)
}

func main() {
	process.Exec(rootCmd)
}

// openStore opens the configured key value store.
func openStore(ctx context.Context, log *zap.Logger, config StoreConfig) (store storage.KeyValueStore, err error) {
	switch config.Backend {
	case "memory":
		store = teststore.New()
	case "bolt":
		store, err = boltdb.New(config.Path, "catalog")
	case "postgres":
		store, err = postgreskv.New(ctx, config.URL)
	case "sqlite":
		store, err = sqlitekv.New(ctx, config.Path)
	default:
		return nil, errs.New("unknown store backend %q", config.Backend)
	}
	if err != nil {
		return nil, err
	}

	if config.Debug {
		store = storelogger.New(log.Named("store"), store)
	}
	return store, nil
}

// openLocker opens the configured lock coordinator.
func openLocker(log *zap.Logger, config LockConfig) (distlock.Locker, error) {
	switch config.Backend {
	case "local":
		return distlock.NewLocal(config.Local), nil
	case "redis":
		locker, err := redislock.New(log.Named("locks"), config.Redis)
		if err != nil {
			return nil, err
		}
		return locker, nil
	default:
		return nil, errs.New("unknown lock backend %q", config.Backend)
	}
}

// openCatalog returns a catalog manager and the function closing its resources.
func openCatalog(ctx context.Context, log *zap.Logger, config Config) (_ *catalog.Manager, cleanup func() error, err error) {
	store, err := openStore(ctx, log, config.Store)
	if err != nil {
		return nil, nil, err
	}
	db := metadb.New(store)

	locks, err := openLocker(log, config.Locks)
	if err != nil {
		return nil, nil, errs.Combine(err, db.Close())
	}

	var prober catalog.ShardProber
	if config.Probe.Timeout > 0 {
		prober = catalog.DialProber{Timeout: config.Probe.Timeout}
	}

	manager := catalog.New(log.Named("catalog"), catalog.Dependencies{
		DB:     db,
		Locks:  locks,
		Prober: prober,
	}, config.Catalog)

	return manager, func() error {
		return errs.Combine(manager.Shutdown(), db.Close())
	}, nil
}

// withCatalog runs fn against a catalog whose version was checked.
func withCatalog(cmd *cobra.Command, fn func(ctx context.Context, manager *catalog.Manager) error) (err error) {
	ctx := process.Ctx(cmd)

	manager, cleanup, err := openCatalog(ctx, zap.L(), runCfg)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	if _, err := manager.CheckAndUpgrade(ctx, true); err != nil {
		if catalog.ErrUpgradeRequired.Has(err) {
			return errs.New("%v, run \"catalogd upgrade\" first", err)
		}
		return err
	}
	return fn(ctx, manager)
}
