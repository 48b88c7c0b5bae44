package partitioner

import (
	"fmt"

	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

// ownerTable maps a location's session id to the transaction that last wrote
// it among the cells processed so far
type ownerTable struct {
	owners []protocol.ShardedTxnIndex
	set    []bool
}

func newOwnerTable(numKeys int) *ownerTable {
	return &ownerTable{
		owners: make([]protocol.ShardedTxnIndex, numKeys),
		set:    make([]bool, numKeys),
	}
}

func (t *ownerTable) get(id uint32) (protocol.ShardedTxnIndex, bool) {
	return t.owners[id], t.set[id]
}

// merge applies a finished cell's writes
func (t *ownerTable) merge(delta map[uint32]protocol.ShardedTxnIndex) {
	for id, owner := range delta {
		t.owners[id] = owner
		t.set[id] = true
	}
}

// addEdges turns the [round][shard] matrix into per-shard sub-blocks and wires
// cross-shard dependencies. Cells are visited round-major, shard-minor, and
// global indices are handed out in that order. Writes made inside a cell only
// become visible once the cell is done, so transactions sharing a cell never
// get an edge between them.
func addEdges(matrix [][][]protocol.AnalyzedTransaction, numShards, numKeys int) []protocol.SubBlocksForShard {
	out := make([]protocol.SubBlocksForShard, numShards)
	for shardID := range out {
		out[shardID] = protocol.NewSubBlocksForShard(shardID)
	}

	global := newOwnerTable(numKeys)
	nextIndex := 0
	for roundID, shards := range matrix {
		for shardID := 0; shardID < numShards; shardID++ {
			cell := shards[shardID]
			start := nextIndex
			delta := make(map[uint32]protocol.ShardedTxnIndex)
			entries := make([]protocol.TransactionWithDependencies, len(cell))

			for i, txn := range cell {
				current := protocol.ShardedTxnIndex{TxnIndex: nextIndex, ShardID: shardID, RoundID: roundID}
				nextIndex++
				entry := &entries[i]
				entry.Txn = txn

				for _, loc := range txn.ReadHints {
					linkToOwner(out, global, entry, current, loc, numKeys)
				}
				for _, loc := range txn.WriteHints {
					linkToOwner(out, global, entry, current, loc, numKeys)
					delta[loc.MustSessionID()] = current
				}
			}

			global.merge(delta)
			out[shardID].AddSubBlock(protocol.NewSubBlock(start, entries))
		}
	}
	return out
}

// linkToOwner records both views of an edge when a previous cell owns loc
func linkToOwner(
	out []protocol.SubBlocksForShard,
	global *ownerTable,
	entry *protocol.TransactionWithDependencies,
	current protocol.ShardedTxnIndex,
	loc protocol.StorageLocation,
	numKeys int,
) {
	id := loc.MustSessionID()
	if int(id) >= numKeys {
		panic(fmt.Sprintf("partitioner: location id %d out of range for %d keys", id, numKeys))
	}
	owner, ok := global.get(id)
	if !ok {
		return
	}
	ownerBlock := out[owner.ShardID].SubBlock(owner.RoundID)
	ownerBlock.Entry(owner.TxnIndex).Deps.AddDependentEdge(current, loc)
	entry.Deps.AddRequiredEdge(owner, loc)
}
