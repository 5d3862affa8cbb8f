// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redisserver starts redis servers for tests.
package redisserver

import (
	"bufio"
	"io"
	"io/ioutil"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/zeebo/errs"
)

// Error is the redisserver error class.
var Error = errs.Class("redisserver")

const (
	fallbackAddr = "localhost:3780"
	fallbackPort = 3780
)

func freeport() (addr string, port int) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fallbackAddr, fallbackPort
	}

	addr = listener.Addr().String()
	port = listener.Addr().(*net.TCPAddr).Port

	_ = listener.Close()
	return addr, port
}

// Start starts a redis-server when the binary is available, otherwise it falls back to miniredis.
func Start() (addr string, cleanup func(), err error) {
	addr, cleanup, err = Process()
	if err != nil {
		server, err := Mini()
		if err != nil {
			return "", nil, err
		}
		return server.Addr(), server.Close, nil
	}
	return addr, cleanup, nil
}

// Process starts a redis-server process listening on a free port.
func Process() (addr string, cleanup func(), err error) {
	if _, err := exec.LookPath("redis-server"); err != nil {
		return "", nil, Error.Wrap(err)
	}

	tmpdir, err := ioutil.TempDir("", "catalog-redis")
	if err != nil {
		return "", nil, Error.Wrap(err)
	}

	var port int
	addr, port = freeport()

	// redis-server only reads settings from a file
	confpath := filepath.Join(tmpdir, "test.conf")
	conf := strings.Join([]string{
		"daemonize no",
		"bind 127.0.0.1",
		"port " + strconv.Itoa(port),
		"timeout 0",
		"databases 1",
		"save \"\"",
		"dir " + tmpdir,
	}, "\n") + "\n"
	if err := ioutil.WriteFile(confpath, []byte(conf), 0644); err != nil {
		_ = os.RemoveAll(tmpdir)
		return "", nil, Error.Wrap(err)
	}

	cmd := exec.Command("redis-server", confpath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = os.RemoveAll(tmpdir)
		return "", nil, Error.Wrap(err)
	}
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(tmpdir)
		return "", nil, Error.Wrap(err)
	}

	cleanup = func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = os.RemoveAll(tmpdir)
	}

	ready := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if strings.Contains(scanner.Text(), "ready to accept") {
				close(ready)
				break
			}
		}
		_, _ = io.Copy(ioutil.Discard, stdout)
	}()

	select {
	case <-ready:
	case <-time.After(3 * time.Second):
		cleanup()
		return "", nil, Error.New("timed out waiting for redis-server")
	}

	if err := ping(addr); err != nil {
		cleanup()
		return "", nil, Error.Wrap(err)
	}
	return addr, cleanup, nil
}

func ping(addr string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	return client.Ping().Err()
}

// Mini starts an in-process miniredis server. Tests that need to move the
// server clock use the returned server directly.
func Mini() (*miniredis.Miniredis, error) {
	server, err := miniredis.Run()
	return server, Error.Wrap(err)
}

