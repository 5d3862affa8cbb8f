// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package postgreskv

import (
	"bytes"
	"context"
	"database/sql"

	// register the postgres driver
	_ "github.com/lib/pq"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/storage"
	"storj.io/shardcatalog/storage/postgreskv/schema"
)

var mon = monkit.Package()

// Error is the default postgreskv errs class
var Error = errs.Class("postgreskv error")

const defaultBucket = ""

// Client is the entrypoint into a postgreskv data store
type Client struct {
	URL    string
	pgConn *sql.DB
}

// New instantiates a new postgreskv client given db URL
func New(ctx context.Context, dbURL string) (*Client, error) {
	pgConn, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := schema.PrepareDB(ctx, pgConn); err != nil {
		return nil, errs.Combine(Error.Wrap(err), pgConn.Close())
	}
	return &Client{
		URL:    dbURL,
		pgConn: pgConn,
	}, nil
}

// Put sets the value for the provided key.
func (client *Client) Put(ctx context.Context, key storage.Key, value storage.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	q := `
		INSERT INTO ` + schema.Table + ` (bucket, fullpath, metadata)
			VALUES ($1::BYTEA, $2::BYTEA, $3::BYTEA)
			ON CONFLICT (bucket, fullpath) DO UPDATE SET metadata = EXCLUDED.metadata
	`
	_, err = client.pgConn.ExecContext(ctx, q, []byte(defaultBucket), []byte(key), []byte(value))
	return Error.Wrap(err)
}

// Get looks up the provided key and returns its value (or an error).
func (client *Client) Get(ctx context.Context, key storage.Key) (_ storage.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	q := "SELECT metadata FROM " + schema.Table + " WHERE bucket = $1::BYTEA AND fullpath = $2::BYTEA"
	row := client.pgConn.QueryRowContext(ctx, q, []byte(defaultBucket), []byte(key))
	var val []byte
	err = row.Scan(&val)
	if err == sql.ErrNoRows {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return val, nil
}

// Delete deletes the given key and its associated value.
func (client *Client) Delete(ctx context.Context, key storage.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	q := "DELETE FROM " + schema.Table + " WHERE bucket = $1::BYTEA AND fullpath = $2::BYTEA"
	result, err := client.pgConn.ExecContext(ctx, q, []byte(defaultBucket), []byte(key))
	if err != nil {
		return Error.Wrap(err)
	}
	numRows, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if numRows == 0 {
		return storage.ErrKeyNotFound.New("%q", key)
	}
	return nil
}

// Iterate iterates over items based on opts
func (client *Client) Iterate(ctx context.Context, opts storage.IterateOptions, fn func(context.Context, storage.Iterator) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	q := `
		SELECT fullpath, metadata
		FROM ` + schema.Table + `
		WHERE bucket = $1::BYTEA
			AND fullpath >= $2::BYTEA
		ORDER BY fullpath
		LIMIT $3
	`
	rows, err := client.pgConn.QueryContext(ctx, q, []byte(defaultBucket), []byte(opts.Start()), opts.EffectiveLimit())
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

	var result sql.Result
	switch {
	case oldValue == nil && newValue == nil:
		q := "SELECT 1 FROM " + schema.Table + " WHERE bucket = $1::BYTEA AND fullpath = $2::BYTEA"
		var exists int
		err := client.pgConn.QueryRowContext(ctx, q, []byte(defaultBucket), []byte(key)).Scan(&exists)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return Error.Wrap(err)
		}
		return storage.ErrValueChanged.New("%q", key)

	case oldValue == nil:
		q := `
			INSERT INTO ` + schema.Table + ` (bucket, fullpath, metadata)
				VALUES ($1::BYTEA, $2::BYTEA, $3::BYTEA)
				ON CONFLICT DO NOTHING
		`
		result, err = client.pgConn.ExecContext(ctx, q, []byte(defaultBucket), []byte(key), []byte(newValue))

	case newValue == nil:
		q := `
			DELETE FROM ` + schema.Table + `
			WHERE bucket = $1::BYTEA AND fullpath = $2::BYTEA AND metadata = $3::BYTEA
		`
		result, err = client.pgConn.ExecContext(ctx, q, []byte(defaultBucket), []byte(key), []byte(oldValue))

	default:
		q := `
			UPDATE ` + schema.Table + ` SET metadata = $4::BYTEA
			WHERE bucket = $1::BYTEA AND fullpath = $2::BYTEA AND metadata = $3::BYTEA
		`
		result, err = client.pgConn.ExecContext(ctx, q, []byte(defaultBucket), []byte(key), []byte(oldValue), []byte(newValue))
	}
	if err != nil {
		return Error.Wrap(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return storage.ErrValueChanged.New("%q", key)
	}
	return nil
}

// Close closes the client
func (client *Client) Close() error {
	return Error.Wrap(client.pgConn.Close())
}
