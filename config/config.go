package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. PARTITIONER_MAX_ROUNDS
const EnvPrefix = "PARTITIONER"

const DefaultConfigPath = "config/config.json"

const (
	DefaultShardNum                    = 4
	DefaultMaxRounds                   = 4
	MaxPartitioningRoundsCeiling       = 8
	DefaultCrossShardDepAvoidThreshold = 0.95
	DefaultPlanCacheBytes              = 32 * 1024 * 1024
	DefaultLogLevel                    = "info"
)

var (
	ErrInvalidShardNum  = errors.New("shard_num must be positive")
	ErrInvalidMaxRounds = fmt.Errorf("max_rounds must be between 1 and %d", MaxPartitioningRoundsCeiling)
	ErrInvalidThreshold = errors.New("cross_shard_dep_avoid_threshold must be within [0, 1]")
	ErrInvalidDelay     = errors.New("network delays must satisfy 0 <= min_delay_ms <= max_delay_ms")
)

// PartitionerConfig enumerates the options the partitioner honours.
type PartitionerConfig struct {
	MaxRounds int `mapstructure:"max_rounds" json:"max_rounds"`
	// Share of transactions the refinement loop tries to keep conflict free
	// before it gives up early.
	CrossShardDepAvoidThreshold float64 `mapstructure:"cross_shard_dep_avoid_threshold" json:"cross_shard_dep_avoid_threshold"`
	// Put every final-round leftover into the last shard instead of keeping
	// it in the shard that discarded it.
	MergeDiscardsToLastShard bool `mapstructure:"merge_discards_to_last_shard" json:"merge_discards_to_last_shard"`
	// Seed the rounds from contiguous equal chunks instead of sender groups.
	SeedWithUniformPartitioner bool `mapstructure:"seed_with_uniform_partitioner" json:"seed_with_uniform_partitioner"`
}

// NetworkConfig adds simulated latency to calls made to a remote partitioner
type NetworkConfig struct {
	DelayEnabled bool `mapstructure:"delay_enabled" json:"delay_enabled"`
	MinDelayMs   int  `mapstructure:"min_delay_ms" json:"min_delay_ms"`
	MaxDelayMs   int  `mapstructure:"max_delay_ms" json:"max_delay_ms"`
}

// Config holds all configurable parameters for the application
type Config struct {
	ShardNum       int               `mapstructure:"shard_num" json:"shard_num"`
	LogLevel       string            `mapstructure:"log_level" json:"log_level"`
	PlanCacheBytes int               `mapstructure:"plan_cache_bytes" json:"plan_cache_bytes"`
	Partitioner    PartitionerConfig `mapstructure:"partitioner" json:"partitioner"`
	Network        NetworkConfig     `mapstructure:"network" json:"network"`
}

// DefaultPartitionerConfig returns the defaults used when nothing overrides them
func DefaultPartitionerConfig() PartitionerConfig {
	return PartitionerConfig{
		MaxRounds:                   DefaultMaxRounds,
		CrossShardDepAvoidThreshold: DefaultCrossShardDepAvoidThreshold,
	}
}

func Default() *Config {
	return &Config{
		ShardNum:       DefaultShardNum,
		LogLevel:       DefaultLogLevel,
		PlanCacheBytes: DefaultPlanCacheBytes,
		Partitioner:    DefaultPartitionerConfig(),
	}
}

// Validate reports the first out-of-range option
func (c PartitionerConfig) Validate() error {
	if c.MaxRounds < 1 || c.MaxRounds > MaxPartitioningRoundsCeiling {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxRounds, c.MaxRounds)
	}
	if c.CrossShardDepAvoidThreshold < 0 || c.CrossShardDepAvoidThreshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, c.CrossShardDepAvoidThreshold)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.ShardNum <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidShardNum, c.ShardNum)
	}
	if c.Network.DelayEnabled && (c.Network.MinDelayMs < 0 || c.Network.MaxDelayMs < c.Network.MinDelayMs) {
		return fmt.Errorf("%w: got %d-%dms", ErrInvalidDelay, c.Network.MinDelayMs, c.Network.MaxDelayMs)
	}
	return c.Partitioner.Validate()
}

func newViper() *viper.Viper {
	v := viper.New()
	def := Default()
	v.SetDefault("shard_num", def.ShardNum)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("plan_cache_bytes", def.PlanCacheBytes)
	v.SetDefault("partitioner.max_rounds", def.Partitioner.MaxRounds)
	v.SetDefault("partitioner.cross_shard_dep_avoid_threshold", def.Partitioner.CrossShardDepAvoidThreshold)
	v.SetDefault("partitioner.merge_discards_to_last_shard", def.Partitioner.MergeDiscardsToLastShard)
	v.SetDefault("partitioner.seed_with_uniform_partitioner", def.Partitioner.SeedWithUniformPartitioner)
	v.SetDefault("network.delay_enabled", def.Network.DelayEnabled)
	v.SetDefault("network.min_delay_ms", def.Network.MinDelayMs)
	v.SetDefault("network.max_delay_ms", def.Network.MaxDelayMs)

	// Partitioner options are flat in the environment:
	// PARTITIONER_MAX_ROUNDS rather than PARTITIONER_PARTITIONER_MAX_ROUNDS.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("partitioner.", "", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the JSON config file at configPath (skipped when empty) and
// applies environment overrides on top of it
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads config/config.json when present, otherwise defaults plus environment
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(DefaultConfigPath); err != nil {
		return Load("")
	}
	return Load(DefaultConfigPath)
}
