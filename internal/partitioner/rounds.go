package partitioner

import (
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

// flattenToRounds drives the worker pool round by round and returns the
// [round][shard] matrix of accepted transactions. Every round but the last
// is free of cross-shard conflicts; the last round takes whatever is left
// unconditionally.
func (p *ShardedBlockPartitioner) flattenToRounds(txns []protocol.AnalyzedTransaction) [][][]protocol.AnalyzedTransaction {
	total := len(txns)
	var remaining [][]protocol.AnalyzedTransaction
	if p.cfg.SeedWithUniformPartitioner {
		remaining = partitionUniformly(txns, p.numShards)
	} else {
		remaining = partitionBySenders(txns, p.numShards)
	}

	matrix := make([][][]protocol.AnalyzedTransaction, 0, p.cfg.MaxRounds)
	for roundID := 0; roundID < p.cfg.MaxRounds-1; roundID++ {
		accepted, discarded := p.pool.round(roundID, remaining)
		matrix = append(matrix, accepted)
		remaining = discarded

		left := countTxns(remaining)
		p.logger.Debugw("Partitioner: round finished",
			"round", roundID, "accepted", countTxns(accepted), "remaining", left)
		if float64(left)/float64(total) <= 1-p.cfg.CrossShardDepAvoidThreshold {
			break
		}
	}

	if p.cfg.MergeDiscardsToLastShard {
		remaining = mergeIntoLastShard(remaining)
	}
	return append(matrix, remaining)
}

func mergeIntoLastShard(lists [][]protocol.AnalyzedTransaction) [][]protocol.AnalyzedTransaction {
	merged := make([]protocol.AnalyzedTransaction, 0, countTxns(lists))
	for _, txns := range lists {
		merged = append(merged, txns...)
	}
	out := make([][]protocol.AnalyzedTransaction, len(lists))
	for i := range out {
		out[i] = []protocol.AnalyzedTransaction{}
	}
	out[len(out)-1] = merged
	return out
}

func countTxns(lists [][]protocol.AnalyzedTransaction) int {
	n := 0
	for _, txns := range lists {
		n += len(txns)
	}
	return n
}
