// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package process runs command line programs with viper backed configuration
// and a zap logger built from the log flags.
package process

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/shardcatalog/pkg/cfgstruct"
)

// EnvPrefix prefixes the environment variables overriding flags, CATALOG_LOCKS_BACKEND
// sets --locks.backend.
const EnvPrefix = "catalog"

// DefaultConfigPath returns the configuration file used when --config is not given.
func DefaultConfigPath(name string) string {
	path := filepath.Join(".shardcatalog", name+".yaml")
	home, err := homedir.Dir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path)
}

// Bind sets flags on cmd matching the configuration struct config.
func Bind(cmd *cobra.Command, config interface{}) {
	cfgstruct.Bind(cmd.Flags(), config)
}

// Exec runs a cobra command. Flag values are taken, in order of preference,
// from the command line, the environment and the configuration file.
func Exec(cmd *cobra.Command) {
	cmd.SilenceUsage = true
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	if cmd.PersistentFlags().Lookup("config") == nil {
		cmd.PersistentFlags().String("config", "", "configuration file, defaults to "+DefaultConfigPath(cmd.Name()))
	}
	cleanup(cmd)
	Must(cmd.Execute())
}

var (
	contextMtx sync.Mutex
	contexts   = map[*cobra.Command]context.Context{}
)

// Ctx returns the context of a running command, canceled on SIGINT and SIGTERM.
func Ctx(cmd *cobra.Command) context.Context {
	contextMtx.Lock()
	defer contextMtx.Unlock()
	ctx := contexts[cmd]
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Viper returns a viper reading the environment and the configuration file of cmd.
func Viper(cmd *cobra.Command) (*viper.Viper, error) {
	vip := viper.New()
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	path := ""
	if f := cmd.Flags().Lookup("config"); f != nil {
		path = f.Value.String()
	}
	if path == "" {
		path = DefaultConfigPath(cmd.Root().Name())
		if _, err := os.Stat(path); err != nil {
			return vip, nil
		}
	}

	vip.SetConfigFile(path)
	if err := vip.ReadInConfig(); err != nil {
		return nil, Error.Wrap(err)
	}
	return vip, nil
}

// applyViper sets every flag not given on the command line from vip.
func applyViper(flags *pflag.FlagSet, vip *viper.Viper) (err error) {
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || f.Name == "config" || !vip.IsSet(f.Name) {
			return
		}
		if setErr := f.Value.Set(vip.GetString(f.Name)); setErr != nil {
			err = Error.New("invalid value for %q: %v", f.Name, setErr)
		}
	})
	return err
}

func cleanup(cmd *cobra.Command) {
	for _, c := range cmd.Commands() {
		cleanup(c)
	}

	if cmd.Run != nil {
		panic("Please use cobra's RunE instead of Run")
	}
	internalRun := cmd.RunE
	if internalRun == nil {
		return
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		vip, err := Viper(cmd)
		if err != nil {
			return err
		}
		if err := applyViper(cmd.Flags(), vip); err != nil {
			return err
		}

		logger, err := NewLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		defer zap.ReplaceGlobals(logger)()
		defer zap.RedirectStdLog(logger)()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signals)
			select {
			case sig := <-signals:
				logger.Info("received signal, canceling", zap.Stringer("signal", sig))
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := initDebug(logger, monkit.Default); err != nil {
			logger.Error("failed to start debug endpoints", zap.Error(err))
		}

		contextMtx.Lock()
		contexts[cmd] = ctx
		contextMtx.Unlock()
		defer func() {
			contextMtx.Lock()
			delete(contexts, cmd)
			contextMtx.Unlock()
		}()

		err = internalRun(cmd, args)
		if err != nil {
			logger.Debug("command failed", zap.String("command", cmd.CommandPath()), zap.Error(err))
		}
		return err
	}
}

// Must checks for errors
func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
