// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package schema

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"
)

// Table is the name of the table holding catalog documents.
const Table = "catalog_kv"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ` + Table + ` (
		bucket   BYTEA NOT NULL,
		fullpath BYTEA NOT NULL,
		metadata BYTEA NOT NULL,
		PRIMARY KEY (bucket, fullpath)
	)`,
}

// PrepareDB applies schema migrations as necessary to the given database to
// get it up to date.
func PrepareDB(ctx context.Context, db *sql.DB) error {
	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return errs.Wrap(err)
		}
	}
	return nil
}
