// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package catalog implements the authoritative metadata manager of a sharded cluster.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/pkg/changelog"
	"storj.io/shardcatalog/pkg/distlock"
	"storj.io/shardcatalog/pkg/metadb"
)

var (
	mon = monkit.Package()

	// Error is the default catalog errs class.
	Error = errs.Class("catalog error")

	// ErrDatabaseNotFound is returned when the database does not exist.
	ErrDatabaseNotFound = errs.Class("database not found")
	// ErrDatabaseDifferCase is returned when a database exists with a name differing only in case.
	ErrDatabaseDifferCase = errs.Class("database differs in case")
	// ErrNamespaceExists is returned when the database or collection already exists.
	ErrNamespaceExists = errs.Class("namespace exists")
	// ErrNamespaceNotFound is returned when the collection does not exist.
	ErrNamespaceNotFound = errs.Class("namespace not found")
	// ErrShardNotFound is returned when a shard does not exist or no shard is eligible.
	ErrShardNotFound = errs.Class("shard not found")
	// ErrIllegalOperation is returned when an operation would break catalog invariants.
	ErrIllegalOperation = errs.Class("illegal operation")
	// ErrFailedToParse is returned for malformed names, endpoints and keys.
	ErrFailedToParse = errs.Class("failed to parse")
	// ErrNoMatchingDocument is returned when a lookup or precondition matched nothing.
	ErrNoMatchingDocument = errs.Class("no matching document")
	// ErrShardUnreachable is returned when a shard endpoint cannot be probed.
	ErrShardUnreachable = errs.Class("shard unreachable")
	// ErrUpgradeRequired is returned when the catalog must be upgraded before use.
	ErrUpgradeRequired = errs.Class("upgrade required")
	// ErrIncompatibleVersion is returned when the catalog is newer than this manager understands.
	ErrIncompatibleVersion = errs.Class("incompatible catalog version")
)

// Config configures a Manager.
type Config struct {
	Owner            string        `help:"identity recorded as lock owner and audit actor, defaults to host:pid" default:""`
	LockTimeout      time.Duration `help:"how long an operation waits for a distributed lock" default:"15s"`
	ConnectionString string        `help:"connection string of the catalog store reported to cluster members" default:""`
}

// ShardInfo is what a probe learns about a shard.
type ShardInfo struct {
	// Databases are the user databases the shard already holds.
	Databases []string
}

// ShardProber contacts a prospective shard before it is added.
type ShardProber interface {
	Probe(ctx context.Context, host string) (ShardInfo, error)
}

// ProberFunc adapts a function to ShardProber.
type ProberFunc func(ctx context.Context, host string) (ShardInfo, error)

// Probe implements ShardProber.
func (fn ProberFunc) Probe(ctx context.Context, host string) (ShardInfo, error) { return fn(ctx, host) }

// CommandRunner executes administrative commands on the catalog servers.
type CommandRunner interface {
	RunCommand(ctx context.Context, db string, command metadb.Document) (metadb.Document, error)
}

// Dependencies are the collaborators of a Manager.
type Dependencies struct {
	DB       *metadb.Client
	Locks    distlock.Locker
	Changes  *changelog.Logger
	Prober   ShardProber
	Commands CommandRunner
}

// Manager is the single writer of cluster metadata. It keeps no in-memory
// state about the catalog, so any number of managers may run concurrently
// against the same store and lock service.
type Manager struct {
	log      *zap.Logger
	db       *metadb.Client
	locks    distlock.Locker
	changes  *changelog.Logger
	prober   ShardProber
	commands CommandRunner
	config   Config

	shutdown int32
}

// New creates a catalog manager.
func New(log *zap.Logger, deps Dependencies, config Config) *Manager {
	if config.Owner == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		config.Owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 15 * time.Second
	}
	if deps.Changes == nil {
		deps.Changes = changelog.New(log.Named("changelog"), deps.DB)
	}

	return &Manager{
		log:      log,
		db:       deps.DB,
		locks:    deps.Locks,
		changes:  deps.Changes,
		prober:   deps.Prober,
		commands: deps.Commands,
		config:   config,
	}
}

// ConnectionString returns the connection string of the catalog store.
func (m *Manager) ConnectionString() string { return m.config.ConnectionString }

// Changes returns the audit logger of the manager.
func (m *Manager) Changes() *changelog.Logger { return m.changes }

// DistLocker returns the lock coordinator used by the manager.
func (m *Manager) DistLocker() distlock.Locker { return m.locks }

// Startup verifies the catalog version, upgrading it when needed.
func (m *Manager) Startup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := m.CheckAndUpgrade(ctx, false)
	if err != nil {
		return err
	}
	m.log.Info("catalog ready", zap.Int("version", info.CurrentVersion), zap.String("cluster", info.ClusterID))
	return nil
}

// Shutdown rejects further locked operations and closes the lock coordinator when it can be closed.
func (m *Manager) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&m.shutdown, 0, 1) {
		return nil
	}
	if closer, ok := m.locks.(io.Closer); ok {
		return Error.Wrap(closer.Close())
	}
	return nil
}

// withLock runs fn while holding the named lock.
func (m *Manager) withLock(ctx context.Context, name, reason string, fn func(ctx context.Context) error) error {
	if atomic.LoadInt32(&m.shutdown) != 0 {
		return Error.New("catalog manager is shut down")
	}
	return distlock.WithLock(ctx, m.locks, name, m.config.Owner, reason, m.config.LockTimeout, fn)
}

func (m *Manager) logChange(ctx context.Context, what, ns string, details map[string]interface{}) {
	m.changes.LogChange(ctx, m.config.Owner, what, ns, details)
}

// LogAction records an action entry in the audit trail.
func (m *Manager) LogAction(ctx context.Context, entry changelog.Entry) {
	if entry.Actor == "" {
		entry.Actor = m.config.Owner
	}
	m.changes.LogAction(ctx, entry)
}
