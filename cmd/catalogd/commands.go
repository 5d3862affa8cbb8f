// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/shardcatalog/pkg/catalog"
	"storj.io/shardcatalog/pkg/changelog"
	"storj.io/shardcatalog/pkg/process"
)

var (
	upgradeCmd = &cobra.Command{
		Use:   "upgrade",
		Short: "Initialize or upgrade the catalog",
		Args:  cobra.NoArgs,
		RunE:  cmdUpgrade,
	}
	addShardCmd = &cobra.Command{
		Use:   "add-shard <host:port>",
		Short: "Register a shard",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdAddShard,
	}
	removeShardCmd = &cobra.Command{
		Use:   "remove-shard <shard>",
		Short: "Start or continue draining a shard, removing it once it is empty",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdRemoveShard,
	}
	listShardsCmd = &cobra.Command{
		Use:   "list-shards",
		Short: "List shards with their chunk counts",
		Args:  cobra.NoArgs,
		RunE:  cmdListShards,
	}
	createDatabaseCmd = &cobra.Command{
		Use:   "create-database <name>",
		Short: "Create an unsharded database",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdCreateDatabase,
	}
	enableShardingCmd = &cobra.Command{
		Use:   "enable-sharding <name>",
		Short: "Allow collections of a database to be sharded",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdEnableSharding,
	}
	movePrimaryCmd = &cobra.Command{
		Use:   "move-primary <database> <shard>",
		Short: "Change the primary shard of a database",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdMovePrimary,
	}
	listDatabasesCmd = &cobra.Command{
		Use:   "list-databases",
		Short: "List databases and their primary shards",
		Args:  cobra.NoArgs,
		RunE:  cmdListDatabases,
	}
	shardCollectionCmd = &cobra.Command{
		Use:   "shard-collection <db.collection> <key>",
		Short: "Shard a collection, the key is written as field:1,other:-1",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdShardCollection,
	}
	dropCollectionCmd = &cobra.Command{
		Use:   "drop-collection <db.collection>",
		Short: "Drop a sharded collection with its chunks and tags",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdDropCollection,
	}
	listChunksCmd = &cobra.Command{
		Use:   "list-chunks <db.collection>",
		Short: "List the chunks of a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdListChunks,
	}
	setSettingCmd = &cobra.Command{
		Use:   "set-setting <key> <value>",
		Short: "Store a cluster setting, values are parsed as JSON when possible",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdSetSetting,
	}
	changelogCmd = &cobra.Command{
		Use:   "changelog",
		Short: "Print the audit trail of catalog changes",
		Args:  cobra.NoArgs,
		RunE:  cmdChangelog,
	}

	upgradeCfg struct {
		Check bool `help:"only check that the catalog version is compatible" default:"false"`
	}
	addShardCfg struct {
		Name    string `help:"shard name, derived from the host when empty" default:""`
		MaxSize string `help:"maximum size of the shard, for example 500GB, empty for no limit" default:""`
	}
	shardCollectionCfg struct {
		Unique bool   `help:"the shard key is unique" default:"false"`
		Split  string `help:"initial split points separated by ';', values of a compound key by ','" default:""`
		Shards string `help:"comma separated shards receiving the initial chunks, the primary when empty" default:""`
	}
	changelogCfg struct {
		What string `help:"only print entries of this kind of change" default:""`
	}
)

func init() {
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(addShardCmd)
	rootCmd.AddCommand(removeShardCmd)
	rootCmd.AddCommand(listShardsCmd)
	rootCmd.AddCommand(createDatabaseCmd)
	rootCmd.AddCommand(enableShardingCmd)
	rootCmd.AddCommand(movePrimaryCmd)
	rootCmd.AddCommand(listDatabasesCmd)
	rootCmd.AddCommand(shardCollectionCmd)
	rootCmd.AddCommand(dropCollectionCmd)
	rootCmd.AddCommand(listChunksCmd)
	rootCmd.AddCommand(setSettingCmd)
	rootCmd.AddCommand(changelogCmd)

	process.Bind(upgradeCmd, &upgradeCfg)
	process.Bind(addShardCmd, &addShardCfg)
	process.Bind(shardCollectionCmd, &shardCollectionCfg)
	process.Bind(changelogCmd, &changelogCfg)
}

func cmdUpgrade(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	manager, cleanup, err := openCatalog(ctx, zap.L(), runCfg)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	info, err := manager.CheckAndUpgrade(ctx, upgradeCfg.Check)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "catalog version %d (compatible with %d), cluster %s\n",
		info.CurrentVersion, info.MinCompatibleVersion, info.ClusterID)
	return err
}

func cmdAddShard(cmd *cobra.Command, args []string) error {
	var maxSize uint64
	if addShardCfg.MaxSize != "" {
		var err error
		maxSize, err = humanize.ParseBytes(addShardCfg.MaxSize)
		if err != nil {
			return errs.New("invalid max size %q: %v", addShardCfg.MaxSize, err)
		}
	}

	var name *string
	if addShardCfg.Name != "" {
		name = &addShardCfg.Name
	}

	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		id, err := manager.AddShard(ctx, name, args[0], int64(maxSize))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "added shard %s\n", id)
		return err
	})
}

func cmdRemoveShard(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		progress, err := manager.RemoveShard(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "%s: %s\n", args[0], progress.Status); err != nil {
			return err
		}
		if progress.Status == catalog.DrainCompleted {
			return nil
		}
		_, err = fmt.Fprintf(out, "remaining chunks: %d\ndatabases to move: %s\n",
			progress.RemainingChunks, strings.Join(progress.DBsToMove, ", "))
		return err
	})
}

func cmdListShards(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		usage, err := manager.GetShardUsage(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHOST\tMAX SIZE\tSTATE\tCHUNKS")
		for _, shard := range usage {
			maxSize := "unlimited"
			if shard.Shard.MaxSizeBytes > 0 {
				maxSize = humanize.Bytes(uint64(shard.Shard.MaxSizeBytes))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", shard.Shard.ID, shard.Shard.Host, maxSize, shard.Shard.State(), shard.Chunks)
		}
		return w.Flush()
	})
}

func cmdCreateDatabase(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		return manager.CreateDatabase(ctx, args[0])
	})
}

func cmdEnableSharding(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		return manager.EnableSharding(ctx, args[0])
	})
}

func cmdMovePrimary(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		return manager.MovePrimary(ctx, args[0], args[1])
	})
}

func cmdListDatabases(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		dbs, err := manager.GetAllDatabases(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPRIMARY\tPARTITIONED")
		for _, db := range dbs {
			fmt.Fprintf(w, "%s\t%s\t%t\n", db.Name, db.Primary, db.Partitioned)
		}
		return w.Flush()
	})
}

func cmdShardCollection(cmd *cobra.Command, args []string) error {
	key, err := catalog.ParseKeyPattern(args[1])
	if err != nil {
		return err
	}

	var splitPoints []catalog.Bound
	if shardCollectionCfg.Split != "" {
		for _, point := range strings.Split(shardCollectionCfg.Split, ";") {
			bound, err := catalog.ParseBound(point)
			if err != nil {
				return err
			}
			splitPoints = append(splitPoints, bound)
		}
	}

	var shards []string
	if shardCollectionCfg.Shards != "" {
		for _, shard := range strings.Split(shardCollectionCfg.Shards, ",") {
			shards = append(shards, strings.TrimSpace(shard))
		}
	}

	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		return manager.ShardCollection(ctx, args[0], key, shardCollectionCfg.Unique, splitPoints, shards)
	})
}

func cmdDropCollection(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		return manager.DropCollection(ctx, args[0])
	})
}

func cmdListChunks(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		chunks, err := manager.GetChunks(ctx, catalog.ChunkQuery{NS: args[0]})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "MIN\tMAX\tSHARD\tVERSION")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", chunk.Min, chunk.Max, chunk.Shard, chunk.Version)
		}
		return w.Flush()
	})
}

func cmdSetSetting(cmd *cobra.Command, args []string) error {
	var value interface{}
	if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
		value = args[1]
	}

	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		return manager.UpdateGlobalSettings(ctx, args[0], value)
	})
}

func cmdChangelog(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(ctx context.Context, manager *catalog.Manager) error {
		entries, err := manager.Changes().Entries(ctx, changelog.ChangeKind, changelogCfg.What)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tACTOR\tWHAT\tNAMESPACE")
		for _, entry := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", humanize.Time(entry.Time), entry.Actor, entry.What, entry.NS)
		}
		return w.Flush()
	})
}
