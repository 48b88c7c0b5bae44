package partitioner

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

// partitionBySenders splits txns into exactly numShards candidate lists.
// Transactions of one sender stay together and in input order; groups are
// appended greedily until a list would exceed ceil(n/numShards). The last
// list absorbs whatever is left once numShards-1 lists are closed.
func partitionBySenders(txns []protocol.AnalyzedTransaction, numShards int) [][]protocol.AnalyzedTransaction {
	target := ceilDiv(len(txns), numShards)

	var order []common.Address
	groups := make(map[common.Address][]protocol.AnalyzedTransaction)
	for _, txn := range txns {
		sender := txn.Sender()
		if _, ok := groups[sender]; !ok {
			order = append(order, sender)
		}
		groups[sender] = append(groups[sender], txn)
	}

	chunks := make([][]protocol.AnalyzedTransaction, 0, numShards)
	var current []protocol.AnalyzedTransaction
	for _, sender := range order {
		group := groups[sender]
		full := len(current) > 0 && len(current)+len(group) > target
		if full && len(chunks) < numShards-1 {
			chunks = append(chunks, current)
			current = nil
		}
		current = append(current, group...)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return padChunks(chunks, numShards)
}

// partitionUniformly cuts txns into contiguous chunks of ceil(n/numShards)
// without looking at senders
func partitionUniformly(txns []protocol.AnalyzedTransaction, numShards int) [][]protocol.AnalyzedTransaction {
	target := ceilDiv(len(txns), numShards)
	chunks := make([][]protocol.AnalyzedTransaction, 0, numShards)
	for start := 0; start < len(txns); start += target {
		end := min(start+target, len(txns))
		chunks = append(chunks, txns[start:end:end])
	}
	return padChunks(chunks, numShards)
}

func padChunks(chunks [][]protocol.AnalyzedTransaction, numShards int) [][]protocol.AnalyzedTransaction {
	for len(chunks) < numShards {
		chunks = append(chunks, []protocol.AnalyzedTransaction{})
	}
	return chunks
}

func ceilDiv(n, d int) int {
	if n == 0 {
		return 0
	}
	return (n + d - 1) / d
}
