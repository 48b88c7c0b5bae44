// Package partitioner splits a block of analyzed transactions into an
// execution plan of rounds and shards. Shards of a round run in parallel,
// rounds run in sequence, and the few conflicts that survive refinement are
// resolved through explicit cross-shard edges.
package partitioner

import (
	"fmt"
	"sync"

	"github.com/sharding-experiment/blockpartitioner/config"
	"github.com/sharding-experiment/blockpartitioner/internal/log"
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

// ShardedBlockPartitioner owns a pool of per-shard workers for its whole
// lifetime. Calls to Partition are serialized.
type ShardedBlockPartitioner struct {
	mu        sync.Mutex
	numShards int
	cfg       config.PartitionerConfig
	pool      *workerPool
	logger    log.Logger
	closeOnce sync.Once
	closed    bool
	broken    bool
}

// NewShardedBlockPartitioner validates cfg and starts one worker per shard.
// Invalid arguments panic.
func NewShardedBlockPartitioner(numShards int, cfg config.PartitionerConfig, logger log.Logger) *ShardedBlockPartitioner {
	if numShards <= 0 {
		panic(fmt.Sprintf("partitioner: num shards must be positive, got %d", numShards))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("partitioner: %v", err))
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	logger.Infow("Partitioner: starting workers",
		"shards", numShards, "maxRounds", cfg.MaxRounds,
		"threshold", cfg.CrossShardDepAvoidThreshold,
		"mergeDiscards", cfg.MergeDiscardsToLastShard,
		"uniformSeed", cfg.SeedWithUniformPartitioner)
	return &ShardedBlockPartitioner{
		numShards: numShards,
		cfg:       cfg,
		pool:      newWorkerPool(numShards, logger),
		logger:    logger,
	}
}

func (p *ShardedBlockPartitioner) NumShards() int {
	return p.numShards
}

func (p *ShardedBlockPartitioner) Config() config.PartitionerConfig {
	return p.cfg
}

// Partition assigns every transaction a (round, shard) cell and returns one
// SubBlocksForShard per shard.
//
// numShards must match the value given at construction. Every hint must
// carry a session id below numKeys; numKeys is the size of the session's
// key space and has no default. Contract violations panic, as does losing a
// worker mid-round, after which the partitioner refuses further work.
func (p *ShardedBlockPartitioner) Partition(txns []protocol.AnalyzedTransaction, numShards, numKeys int) []protocol.SubBlocksForShard {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		panic("partitioner: partition called after close")
	}
	if p.broken {
		panic("partitioner: a worker failed in an earlier call")
	}
	if numShards != p.numShards {
		panic(fmt.Sprintf("partitioner: built for %d shards, asked for %d", p.numShards, numShards))
	}
	if len(txns) == 0 {
		return []protocol.SubBlocksForShard{}
	}
	if numKeys <= 0 {
		panic(fmt.Sprintf("partitioner: num keys must be supplied for a block of %d transactions", len(txns)))
	}

	matrix := p.refine(txns)
	plan := addEdges(matrix, p.numShards, numKeys)

	p.logger.Debugw("Partitioner: block partitioned",
		"txns", len(txns), "rounds", len(matrix), "keys", numKeys)
	return plan
}

// refine runs the round loop and poisons the partitioner if the pool fails
func (p *ShardedBlockPartitioner) refine(txns []protocol.AnalyzedTransaction) [][][]protocol.AnalyzedTransaction {
	defer func() {
		if r := recover(); r != nil {
			p.broken = true
			panic(r)
		}
	}()
	return p.flattenToRounds(txns)
}

// Close stops every worker and waits for them. A worker failure is logged and
// returned. Close is idempotent.
func (p *ShardedBlockPartitioner) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		if err = p.pool.close(); err != nil {
			p.logger.Errorw("Partitioner: worker failed", "err", err)
		}
	})
	return err
}
