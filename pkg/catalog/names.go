// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Reserved database names.
const (
	AdminDB  = "admin"
	ConfigDB = "config"
	LocalDB  = "local"
)

const maxDatabaseNameLength = 64

var shardIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsReservedDatabase returns whether the name is one of the internal databases.
func IsReservedDatabase(name string) bool {
	return name == AdminDB || name == ConfigDB || name == LocalDB
}

// ValidateDatabaseName checks that name can be used as a database name.
func ValidateDatabaseName(name string) error {
	if name == "" {
		return ErrFailedToParse.New("empty database name")
	}
	if len(name) >= maxDatabaseNameLength {
		return ErrFailedToParse.New("database name %q is too long", name)
	}
	if strings.ContainsAny(name, "/\\. \"$*<>:|?\x00") {
		return ErrFailedToParse.New("invalid database name %q", name)
	}
	return nil
}

// ParseNamespace splits "db.collection".
func ParseNamespace(ns string) (db, collection string, err error) {
	i := strings.IndexByte(ns, '.')
	if i <= 0 || i == len(ns)-1 {
		return "", "", ErrFailedToParse.New("invalid namespace %q", ns)
	}
	db, collection = ns[:i], ns[i+1:]
	if err := ValidateDatabaseName(db); err != nil {
		return "", "", err
	}
	if strings.ContainsAny(collection, "$\x00") {
		return "", "", ErrFailedToParse.New("invalid collection name in %q", ns)
	}
	return db, collection, nil
}

// ParseEndpoint validates a host:port shard endpoint and returns its host.
func ParseEndpoint(endpoint string) (host string, err error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", ErrFailedToParse.New("endpoint %q: %v", endpoint, err)
	}
	if host == "" {
		return "", ErrFailedToParse.New("endpoint %q has no host", endpoint)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", ErrFailedToParse.New("endpoint %q has invalid port", endpoint)
	}
	return host, nil
}

// ValidateShardID checks a shard identifier.
func ValidateShardID(id string) error {
	if id == ConfigDB {
		return ErrIllegalOperation.New("shard name %q is reserved", id)
	}
	if !shardIDPattern.MatchString(id) {
		return ErrFailedToParse.New("invalid shard name %q", id)
	}
	return nil
}

// shardNameFromHost derives a shard name from the first label of the host.
func shardNameFromHost(host string) (string, bool) {
	if net.ParseIP(host) != nil {
		return "", false
	}
	label := host
	if i := strings.IndexByte(host, '.'); i >= 0 {
		label = host[:i]
	}
	if ValidateShardID(label) != nil {
		return "", false
	}
	return label, true
}
