// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"flag"
	"io/ioutil"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/internal/testcontext"
)

func setenv(key, value string) func() {
	old, ok := os.LookupEnv(key)
	_ = os.Setenv(key, value)
	return func() {
		if ok {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	}
}

func TestExec_PropagatesSettings(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	configFile := ctx.File("catalogd.yaml")
	require.NoError(t, ioutil.WriteFile(configFile, []byte("w: 7\nlocks:\n  poll-interval: 3s\n"), 0644))

	var config struct {
		W     int `default:"0"`
		X     int `default:"0"`
		Locks struct {
			PollInterval time.Duration `default:"100ms"`
		}
	}

	ran := false
	cmd := &cobra.Command{Use: "test", RunE: func(cmd *cobra.Command, args []string) error {
		ran = true
		assert.NotNil(t, Ctx(cmd))
		return nil
	}}
	Bind(cmd, &config)
	y := cmd.Flags().Int("y", 0, "y flag (command)")
	z := flag.Int("z", 0, "z flag (stdlib)")

	defer setenv("CATALOG_X", "1")()
	defer setenv("CATALOG_Y", "2")()
	defer setenv("CATALOG_Z", "3")()

	cmd.SetArgs([]string{"--config", configFile, "--y", "5"})
	Exec(cmd)

	require.True(t, ran)
	assert.Equal(t, 7, config.W, "from the configuration file")
	assert.Equal(t, 3*time.Second, config.Locks.PollInterval, "nested keys of the configuration file")
	assert.Equal(t, 1, config.X, "from the environment")
	assert.Equal(t, 5, *y, "the command line wins over the environment")
	assert.Equal(t, 3, *z, "stdlib flags are bound as well")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "catalog_AddShard_success", sanitize("catalog.AddShard/success"))
	assert.Equal(t, "_9lives", sanitize("9lives"))
	assert.Equal(t, "_", sanitize(""))
}

func TestPrometheus(t *testing.T) {
	registry := monkit.NewRegistry()
	registry.ScopeNamed("catalog").Meter("audit_write_failures").Mark(1)

	recorder := httptest.NewRecorder()
	prometheus(recorder, registry)

	body := recorder.Body.String()
	assert.True(t, strings.Contains(body, "# TYPE "), body)
	assert.True(t, strings.Contains(body, "audit_write_failures"), body)
}
