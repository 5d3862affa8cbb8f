// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package changelog writes the best-effort audit trail of catalog changes.
package changelog

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/pkg/metadb"
)

var mon = monkit.Package()

// Document kinds holding the audit entries.
const (
	ChangeKind metadb.Kind = "changelog"
	ActionKind metadb.Kind = "actionlog"
)

// Entry is a single immutable audit record.
type Entry struct {
	ID      string                 `json:"_id"`
	Time    time.Time              `json:"time"`
	Actor   string                 `json:"actor"`
	What    string                 `json:"what"`
	NS      string                 `json:"ns,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Logger writes change and action entries. Write failures are logged and
// counted but never returned to the caller.
type Logger struct {
	log  *zap.Logger
	db   *metadb.Client
	host string
	now  func() time.Time

	sequence int64
}

// New returns a logger writing into db.
func New(log *zap.Logger, db *metadb.Client) *Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Logger{
		log:  log,
		db:   db,
		host: host,
		now:  time.Now,
	}
}

// LogChange records a metadata change made by actor.
func (logger *Logger) LogChange(ctx context.Context, actor, what, ns string, details map[string]interface{}) {
	logger.write(ctx, ChangeKind, Entry{Actor: actor, What: what, NS: ns, Details: details})
}

// LogAction records an action entry, typically emitted by the balancer.
func (logger *Logger) LogAction(ctx context.Context, entry Entry) {
	logger.write(ctx, ActionKind, entry)
}

func (logger *Logger) write(ctx context.Context, kind metadb.Kind, entry Entry) {
	var err error
	defer mon.Task()(&ctx)(&err)

	if entry.Time.IsZero() {
		entry.Time = logger.now().UTC()
	}
	if entry.ID == "" {
		// ids sort by time and stay unique per process
		seq := atomic.AddInt64(&logger.sequence, 1)
		entry.ID = fmt.Sprintf("%s-%s-%09d", entry.Time.Format("2006-01-02T15:04:05.000000000Z"), logger.host, seq)
	}

	doc, err := metadb.Encode(entry)
	if err == nil {
		err = logger.db.Insert(ctx, kind, doc)
	}
	if err != nil {
		mon.Meter("audit_write_failures").Mark(1)
		logger.log.Warn("unable to write audit entry",
			zap.String("kind", string(kind)),
			zap.String("what", entry.What),
			zap.String("ns", entry.NS),
			zap.Error(err))
		return
	}

	logger.log.Debug("audit", zap.String("kind", string(kind)), zap.String("what", entry.What), zap.String("ns", entry.NS))
}

// Entries returns the logged entries of kind in time order, used by tooling and tests.
func (logger *Logger) Entries(ctx context.Context, kind metadb.Kind, what string) (_ []Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	var filter metadb.Filter
	if what != "" {
		filter = append(filter, metadb.Eq("what", what))
	}
	docs, err := logger.db.Find(ctx, kind, metadb.Query{Filter: filter, Sort: metadb.Sort{metadb.Asc(metadb.IDField)}})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		var entry Entry
		if err := metadb.Decode(doc, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
