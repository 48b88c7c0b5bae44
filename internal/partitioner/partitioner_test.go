package partitioner

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharding-experiment/blockpartitioner/config"
	"github.com/sharding-experiment/blockpartitioner/internal/log"
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
	"github.com/sharding-experiment/blockpartitioner/internal/workload"
)

// nineTxnBlock is three groups of transfers. Group one (accounts 1-3) is
// self-contained, group two is sender 4 paying 5, 6 and 9, and the two
// transfers of group three pay into group two's receivers.
func nineTxnBlock() ([]protocol.AnalyzedTransaction, []common.Address) {
	a := workload.Accounts(10)
	return []protocol.AnalyzedTransaction{
		transfer(a[1], a[2], 0), // t0
		transfer(a[1], a[3], 1), // t1
		transfer(a[2], a[3], 0), // t2
		transfer(a[4], a[5], 0), // t3
		transfer(a[4], a[6], 1), // t4
		transfer(a[4], a[6], 2), // t5
		transfer(a[7], a[5], 0), // t6
		transfer(a[8], a[6], 0), // t7
		transfer(a[4], a[9], 3), // t8
	}, a
}

func TestPartition_CrossShardDependencies(t *testing.T) {
	raw, a := nineTxnBlock()
	txns, numKeys := annotate(raw)
	p := newTestPartitioner(t, 3, testConfig(2, 0.9))

	plan := p.Partition(txns, 3, numKeys)
	checkPlanInvariants(t, txns, plan, 3)
	require.Equal(t, 2, protocol.NumRounds(plan))

	// round 0 keeps everything that does not conflict across shards
	assert.Equal(t, 3, plan[0].SubBlocks[0].NumTxns())
	assert.Equal(t, 4, plan[1].SubBlocks[0].NumTxns())
	assert.Equal(t, 0, plan[2].SubBlocks[0].NumTxns())

	// the final round holds the two residual transfers, in shard 2
	assert.Equal(t, 0, plan[0].SubBlocks[1].NumTxns())
	assert.Equal(t, 0, plan[1].SubBlocks[1].NumTxns())
	final := plan[2].SubBlocks[1]
	require.Equal(t, 2, final.NumTxns())
	assert.Equal(t, 7, final.StartIndex)

	t6, t7 := final.Transactions[0], final.Transactions[1]
	assert.Equal(t, a[7], t6.Txn.Sender())
	assert.Equal(t, a[8], t7.Txn.Sender())

	t3Index := idx(3, 1, 0)
	t5Index := idx(5, 1, 0)
	require.Len(t, t6.Deps.RequiredEdges, 1)
	assert.Equal(t, t3Index, t6.Deps.RequiredEdges[0].Txn)
	assert.Equal(t, workload.CoinStore(a[5]).Key(), t6.Deps.RequiredEdges[0].Locations[0].Key())
	require.Len(t, t7.Deps.RequiredEdges, 1)
	assert.Equal(t, t5Index, t7.Deps.RequiredEdges[0].Txn)
	assert.Equal(t, workload.CoinStore(a[6]).Key(), t7.Deps.RequiredEdges[0].Locations[0].Key())

	t3 := lookup(t, plan, t3Index)
	t5 := lookup(t, plan, t5Index)
	assert.Equal(t, a[5], t3.Txn.Txn.Receiver)
	require.Len(t, t3.Deps.DependentEdges, 1)
	assert.Equal(t, idx(7, 2, 1), t3.Deps.DependentEdges[0].Txn)
	require.Len(t, t5.Deps.DependentEdges, 1)
	assert.Equal(t, idx(8, 2, 1), t5.Deps.DependentEdges[0].Txn)
}

func TestPartition_SingleRoundBudget(t *testing.T) {
	raw, _ := nineTxnBlock()
	txns, numKeys := annotate(raw)
	p := newTestPartitioner(t, 3, testConfig(1, 0.9))

	plan := p.Partition(txns, 3, numKeys)
	checkPlanInvariants(t, txns, plan, 3)
	require.Equal(t, 1, protocol.NumRounds(plan))

	// nothing is refined: the sender chunks go straight to the final round
	assert.Equal(t, 3, plan[0].NumTxns())
	assert.Equal(t, 4, plan[1].NumTxns())
	assert.Equal(t, 2, plan[2].NumTxns())
	t6 := plan[2].SubBlocks[0].Transactions[0]
	require.Len(t, t6.Deps.RequiredEdges, 1)
	assert.Equal(t, idx(3, 1, 0), t6.Deps.RequiredEdges[0].Txn)
}

func TestPartition_SingleSender(t *testing.T) {
	a := workload.Accounts(30)
	raw := make([]protocol.AnalyzedTransaction, 25)
	for i := range raw {
		raw[i] = transfer(a[0], a[1+i], uint64(i))
	}
	txns, numKeys := annotate(raw)
	p := newTestPartitioner(t, 4, config.DefaultPartitionerConfig())

	plan := p.Partition(txns, 4, numKeys)
	checkPlanInvariants(t, txns, plan, 4)

	assert.Equal(t, 25, plan[0].SubBlocks[0].NumTxns())
	for shardID := range plan {
		for roundID, block := range plan[shardID].SubBlocks {
			if shardID == 0 && roundID == 0 {
				continue
			}
			assert.True(t, block.IsEmpty(), "shard %d round %d should be empty", shardID, roundID)
		}
		for _, entry := range plan[shardID].Entries() {
			assert.True(t, entry.Deps.IsEmpty())
		}
	}
}

func TestPartition_EmptyBlock(t *testing.T) {
	p := newTestPartitioner(t, 2, config.DefaultPartitionerConfig())
	plan := p.Partition(nil, 2, 0)
	assert.NotNil(t, plan)
	assert.Empty(t, plan)
}

func TestPartition_ContractViolations(t *testing.T) {
	raw, _ := nineTxnBlock()
	txns, numKeys := annotate(raw)
	p := newTestPartitioner(t, 3, config.DefaultPartitionerConfig())

	assert.PanicsWithValue(t, "partitioner: built for 3 shards, asked for 4", func() {
		p.Partition(txns, 4, numKeys)
	})
	assert.Panics(t, func() { p.Partition(txns, 3, 0) }, "num keys is mandatory")
	assert.Panics(t, func() { p.Partition(raw, 3, numKeys) }, "hints without session ids")

	// none of the above poisons the workers
	plan := p.Partition(txns, 3, numKeys)
	checkPlanInvariants(t, txns, plan, 3)
}

func TestNewShardedBlockPartitioner_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		numShards int
		cfg       config.PartitionerConfig
	}{
		{"zero shards", 0, config.DefaultPartitionerConfig()},
		{"zero rounds", 2, testConfig(0, 0.9)},
		{"above round ceiling", 2, testConfig(config.MaxPartitioningRoundsCeiling+1, 0.9)},
		{"threshold above one", 2, testConfig(2, 1.2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() {
				NewShardedBlockPartitioner(tt.numShards, tt.cfg, log.NewNopLogger())
			})
		})
	}
}

func TestPartition_Properties(t *testing.T) {
	configs := map[string]config.PartitionerConfig{
		"defaults":      config.DefaultPartitionerConfig(),
		"max rounds":    testConfig(config.MaxPartitioningRoundsCeiling, 1),
		"two rounds":    testConfig(2, 0.95),
		"single round":  testConfig(1, 0.95),
		"merge":         {MaxRounds: 3, CrossShardDepAvoidThreshold: 0.99, MergeDiscardsToLastShard: true},
		"uniform seed":  {MaxRounds: 4, CrossShardDepAvoidThreshold: 0.95, SeedWithUniformPartitioner: true},
		"uniform merge": {MaxRounds: 4, CrossShardDepAvoidThreshold: 1, SeedWithUniformPartitioner: true, MergeDiscardsToLastShard: true},
	}
	workloads := map[string]workload.Generator{
		"spread":   {NumAccounts: 200, HotRatio: 0, Seed: 7},
		"some hot": {NumAccounts: 100, HotRatio: 0.3, Seed: 8},
		"very hot": {NumAccounts: 40, HotRatio: 0.9, Seed: 9},
	}

	for cfgName, cfg := range configs {
		for wlName, gen := range workloads {
			for _, numShards := range []int{1, 3, 8} {
				t.Run(fmt.Sprintf("%s/%s/%d shards", cfgName, wlName, numShards), func(t *testing.T) {
					txns, numKeys := annotate(gen.Block(300))
					p := newTestPartitioner(t, numShards, cfg)

					plan := p.Partition(txns, numShards, numKeys)
					checkPlanInvariants(t, txns, plan, numShards)
					assert.LessOrEqual(t, protocol.NumRounds(plan), cfg.MaxRounds)

					if !cfg.SeedWithUniformPartitioner && !cfg.MergeDiscardsToLastShard {
						checkSenderLocality(t, plan)
					}
					if cfg.MergeDiscardsToLastShard {
						last := protocol.NumRounds(plan) - 1
						for shardID := 0; shardID < numShards-1; shardID++ {
							assert.True(t, plan[shardID].SubBlocks[last].IsEmpty(),
								"final round of shard %d should be merged away", shardID)
						}
					}
				})
			}
		}
	}
}

func checkSenderLocality(t *testing.T, plan []protocol.SubBlocksForShard) {
	t.Helper()
	home := make(map[common.Address]int)
	for _, shard := range plan {
		for _, entry := range shard.Entries() {
			sender := entry.Txn.Sender()
			if s, ok := home[sender]; ok && s != shard.ShardID {
				t.Errorf("sender %s planned on shards %d and %d", sender.Hex(), s, shard.ShardID)
			}
			home[sender] = shard.ShardID
		}
	}
}

func TestPartition_EarlyExit(t *testing.T) {
	txns, numKeys := annotate(workload.Generator{NumAccounts: 40, HotRatio: 0.9, Seed: 5}.Block(200))
	p := newTestPartitioner(t, 4, testConfig(config.MaxPartitioningRoundsCeiling, 0))

	plan := p.Partition(txns, 4, numKeys)
	checkPlanInvariants(t, txns, plan, 4)
	// a zero threshold is satisfied by the first round, then the final round follows
	assert.Equal(t, 2, protocol.NumRounds(plan))
}

func TestPartition_Deterministic(t *testing.T) {
	txns, numKeys := annotate(workload.Generator{NumAccounts: 60, HotRatio: 0.5, Seed: 11}.Block(400))
	cfg := testConfig(4, 0.95)

	p := newTestPartitioner(t, 4, cfg)
	first := p.Partition(txns, 4, numKeys)
	second := p.Partition(txns, 4, numKeys)
	third := newTestPartitioner(t, 4, cfg).Partition(txns, 4, numKeys)

	if diff := pretty.Compare(first, second); diff != "" {
		t.Errorf("repeated partition differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, protocol.PlanHash(first), protocol.PlanHash(second))
	assert.Equal(t, protocol.PlanHash(first), protocol.PlanHash(third))
}

func TestPartition_ConcurrentCallers(t *testing.T) {
	txns, numKeys := annotate(workload.Generator{NumAccounts: 50, HotRatio: 0.4, Seed: 13}.Block(200))
	p := newTestPartitioner(t, 4, config.DefaultPartitionerConfig())
	want := protocol.PlanHash(p.Partition(txns, 4, numKeys))

	var wg sync.WaitGroup
	hashes := make([]common.Hash, 8)
	for i := range hashes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i] = protocol.PlanHash(p.Partition(txns, 4, numKeys))
		}(i)
	}
	wg.Wait()

	for i, h := range hashes {
		assert.Equal(t, want, h, "caller %d", i)
	}
}

func TestPartition_WorkerFailureIsFatal(t *testing.T) {
	cfg := config.PartitionerConfig{MaxRounds: 2, CrossShardDepAvoidThreshold: 0.9, SeedWithUniformPartitioner: true}
	p := NewShardedBlockPartitioner(2, cfg, log.NewNopLogger())

	a := workload.Accounts(3)
	// a transaction without payload makes the worker that owns it panic
	raw := []protocol.AnalyzedTransaction{
		transfer(a[0], a[1], 0),
		{WriteHints: []protocol.StorageLocation{protocol.AccountLocation(a[2])}},
	}
	txns, numKeys := annotate(raw)

	assert.Panics(t, func() { p.Partition(txns, 2, numKeys) })
	assert.PanicsWithValue(t, "partitioner: a worker failed in an earlier call", func() {
		p.Partition(txns[:1], 2, numKeys)
	})

	err := p.Close()
	require.Error(t, err)
	assert.NoError(t, p.Close(), "second close is a no-op")
	assert.Panics(t, func() { p.Partition(txns[:1], 2, numKeys) })
}

func TestClose_Idempotent(t *testing.T) {
	p := NewShardedBlockPartitioner(3, config.DefaultPartitionerConfig(), log.NewNopLogger())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.PanicsWithValue(t, "partitioner: partition called after close", func() {
		p.Partition(nil, 3, 0)
	})
}
