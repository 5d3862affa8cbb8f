// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package catalog

import (
	"context"
	"net"
	"time"
)

// DialProber checks that a shard endpoint accepts connections. It cannot list
// the databases of the shard, so shards added with it bring no databases.
type DialProber struct {
	Timeout time.Duration
}

// Probe implements ShardProber.
func (prober DialProber) Probe(ctx context.Context, host string) (_ ShardInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	timeout := prober.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return ShardInfo{}, err
	}
	return ShardInfo{}, conn.Close()
}
