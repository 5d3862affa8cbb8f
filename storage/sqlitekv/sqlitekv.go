// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sqlitekv

import (
	"bytes"
	"context"
	"database/sql"

	// register the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/storage"
)

var mon = monkit.Package()

// Error is the default sqlitekv errs class
var Error = errs.Class("sqlitekv error")

const createTable = `CREATE TABLE IF NOT EXISTS kv (
	key   BLOB NOT NULL PRIMARY KEY,
	value BLOB NOT NULL
)`

// Client is a sqlite backed key value store.
type Client struct {
	db *sql.DB
}

// New opens or creates the sqlite database at path.
func New(ctx context.Context, path string) (*Client, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return nil, errs.Combine(Error.Wrap(err), db.Close())
	}
	return &Client{db: db}, nil
}

// Put adds a value to store
func (client *Client) Put(ctx context.Context, key storage.Key, value storage.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	_, err = client.db.ExecContext(ctx, `INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, []byte(key), []byte(value))
	return Error.Wrap(err)
}

// Get gets a value to store
func (client *Client) Get(ctx context.Context, key storage.Key) (_ storage.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	var value []byte
	err = client.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, []byte(key)).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return value, nil
}

// Delete deletes key and the value
func (client *Client) Delete(ctx context.Context, key storage.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	result, err := client.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, []byte(key))
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return storage.ErrKeyNotFound.New("%q", key)
	}
	return nil
}

// Iterate iterates over items based on opts
func (client *Client) Iterate(ctx context.Context, opts storage.IterateOptions, fn func(context.Context, storage.Iterator) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := client.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key >= ? ORDER BY key LIMIT ?`,
		[]byte(opts.Start()), opts.EffectiveLimit())
	if err != nil {
		return Error.Wrap(err)
	}

	var items storage.Items
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return Error.Wrap(errs.Combine(err, rows.Close()))
		}
		if !bytes.HasPrefix(key, opts.Prefix) {
			break
		}
		items = append(items, storage.ListItem{Key: key, Value: value})
	}
	if err := errs.Combine(rows.Err(), rows.Close()); err != nil {
		return Error.Wrap(err)
	}

	return fn(ctx, &storage.StaticIterator{Items: items})
}

// CompareAndSwap atomically compares and swaps oldValue with newValue
func (client *Client) CompareAndSwap(ctx context.Context, key storage.Key, oldValue, newValue storage.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	tx, err := client.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, Error.Wrap(ignoreDone(tx.Rollback())))
			return
		}
		err = Error.Wrap(tx.Commit())
	}()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, []byte(key)).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if oldValue != nil {
			return storage.ErrValueChanged.New("%q", key)
		}
		if newValue == nil {
			return nil
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?)`, []byte(key), []byte(newValue))
		return Error.Wrap(err)
	case err != nil:
		return Error.Wrap(err)
	}

	if oldValue == nil || !bytes.Equal(current, oldValue) {
		return storage.ErrValueChanged.New("%q", key)
	}

	if newValue == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, []byte(key))
		return Error.Wrap(err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE kv SET value = ? WHERE key = ?`, []byte(newValue), []byte(key))
	return Error.Wrap(err)
}

func ignoreDone(err error) error {
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Close closes the store
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
