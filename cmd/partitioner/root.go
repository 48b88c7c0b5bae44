package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharding-experiment/blockpartitioner/config"
	"github.com/sharding-experiment/blockpartitioner/internal/log"
	"github.com/sharding-experiment/blockpartitioner/internal/partitioner"
)

const (
	configF   = "config"
	logLevelF = "log-level"
	shardsF   = "shards"
)

// app carries what every subcommand needs once flags are parsed
type app struct {
	cfg    *config.Config
	logger *log.Log
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "partitioner",
		Short:         "Sharded block partitioner",
		Long:          `Splits blocks of transactions into rounds of conflict-free per-shard sub-blocks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().String(configF, "", "Path to a JSON config file (default config/config.json when present)")
	root.PersistentFlags().String(logLevelF, "", "Log level: debug, info, warn or error (overrides config)")
	root.PersistentFlags().Int(shardsF, 0, "Number of shards (0 = use config)")
	root.AddCommand(newServeCmd(a), newBenchCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString(configF)
	if err != nil {
		return err
	}
	if path == "" {
		a.cfg, err = config.LoadDefault()
	} else {
		a.cfg, err = config.Load(path)
	}
	if err != nil {
		return err
	}

	if shards, _ := cmd.Flags().GetInt(shardsF); shards > 0 {
		a.cfg.ShardNum = shards
	}
	if level, _ := cmd.Flags().GetString(logLevelF); level != "" {
		a.cfg.LogLevel = level
	}

	a.logger, err = log.NewProductionLogger(a.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	return nil
}

func (a *app) newPartitioner() *partitioner.ShardedBlockPartitioner {
	return partitioner.NewShardedBlockPartitioner(a.cfg.ShardNum, a.cfg.Partitioner, a.logger.Named("partitioner"))
}
