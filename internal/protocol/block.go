package protocol

import (
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Execution plan types handed to the parallel block executor

// CrossShardEdge links a transaction to another one through shared locations
type CrossShardEdge struct {
	Txn       ShardedTxnIndex   `json:"txn"`
	Locations []StorageLocation `json:"locations"`
}

// CrossShardDependencies holds both views of the edges touching one transaction.
// RequiredEdges point at owners that must commit first; DependentEdges point at
// transactions waiting on this one. Both are ordered by TxnIndex.
type CrossShardDependencies struct {
	RequiredEdges  []CrossShardEdge `json:"required_edges,omitempty"`
	DependentEdges []CrossShardEdge `json:"dependent_edges,omitempty"`
}

func (d *CrossShardDependencies) AddRequiredEdge(owner ShardedTxnIndex, loc StorageLocation) {
	d.RequiredEdges = addEdge(d.RequiredEdges, owner, loc)
}

func (d *CrossShardDependencies) AddDependentEdge(dependent ShardedTxnIndex, loc StorageLocation) {
	d.DependentEdges = addEdge(d.DependentEdges, dependent, loc)
}

func (d *CrossShardDependencies) IsEmpty() bool {
	return len(d.RequiredEdges) == 0 && len(d.DependentEdges) == 0
}

// RequiredLocations returns the locations required from owner, or nil
func (d *CrossShardDependencies) RequiredLocations(owner ShardedTxnIndex) []StorageLocation {
	return findEdge(d.RequiredEdges, owner)
}

// DependentLocations returns the locations dependent waits on, or nil
func (d *CrossShardDependencies) DependentLocations(dependent ShardedTxnIndex) []StorageLocation {
	return findEdge(d.DependentEdges, dependent)
}

func addEdge(edges []CrossShardEdge, txn ShardedTxnIndex, loc StorageLocation) []CrossShardEdge {
	i := sort.Search(len(edges), func(i int) bool { return edges[i].Txn.TxnIndex >= txn.TxnIndex })
	if i < len(edges) && edges[i].Txn == txn {
		key := loc.Key()
		for _, existing := range edges[i].Locations {
			if existing.Key() == key {
				return edges
			}
		}
		edges[i].Locations = append(edges[i].Locations, loc)
		return edges
	}
	edges = append(edges, CrossShardEdge{})
	copy(edges[i+1:], edges[i:])
	edges[i] = CrossShardEdge{Txn: txn, Locations: []StorageLocation{loc}}
	return edges
}

func findEdge(edges []CrossShardEdge, txn ShardedTxnIndex) []StorageLocation {
	i := sort.Search(len(edges), func(i int) bool { return edges[i].Txn.TxnIndex >= txn.TxnIndex })
	if i < len(edges) && edges[i].Txn == txn {
		return edges[i].Locations
	}
	return nil
}

// TransactionWithDependencies is one entry of a SubBlock
type TransactionWithDependencies struct {
	Txn  AnalyzedTransaction    `json:"txn"`
	Deps CrossShardDependencies `json:"deps"`
}

// SubBlock is one shard's ordered work for one round. Entries execute in
// sequence; same-shard conflicts need no edge.
type SubBlock struct {
	StartIndex   int                           `json:"start_index"`
	Transactions []TransactionWithDependencies `json:"transactions"`
}

func NewSubBlock(startIndex int, txns []TransactionWithDependencies) SubBlock {
	return SubBlock{StartIndex: startIndex, Transactions: txns}
}

func (b *SubBlock) NumTxns() int {
	return len(b.Transactions)
}

func (b *SubBlock) IsEmpty() bool {
	return len(b.Transactions) == 0
}

// EndIndex is one past the global index of the last entry
func (b *SubBlock) EndIndex() int {
	return b.StartIndex + len(b.Transactions)
}

// Entry returns the entry at global index txnIndex
func (b *SubBlock) Entry(txnIndex int) *TransactionWithDependencies {
	return &b.Transactions[txnIndex-b.StartIndex]
}

// SubBlocksForShard is the per-round work of a shard, one SubBlock per round
type SubBlocksForShard struct {
	ShardID   int        `json:"shard_id"`
	SubBlocks []SubBlock `json:"sub_blocks"`
}

func NewSubBlocksForShard(shardID int) SubBlocksForShard {
	return SubBlocksForShard{ShardID: shardID, SubBlocks: []SubBlock{}}
}

func (s *SubBlocksForShard) AddSubBlock(b SubBlock) {
	s.SubBlocks = append(s.SubBlocks, b)
}

func (s *SubBlocksForShard) NumSubBlocks() int {
	return len(s.SubBlocks)
}

// SubBlock returns the SubBlock of round, or nil when round is out of range
func (s *SubBlocksForShard) SubBlock(round int) *SubBlock {
	if round < 0 || round >= len(s.SubBlocks) {
		return nil
	}
	return &s.SubBlocks[round]
}

func (s *SubBlocksForShard) NumTxns() int {
	n := 0
	for i := range s.SubBlocks {
		n += s.SubBlocks[i].NumTxns()
	}
	return n
}

// Entries returns every entry of the shard in round order
func (s *SubBlocksForShard) Entries() []TransactionWithDependencies {
	out := make([]TransactionWithDependencies, 0, s.NumTxns())
	for i := range s.SubBlocks {
		out = append(out, s.SubBlocks[i].Transactions...)
	}
	return out
}

// PlanHash fingerprints a plan by hashing its canonical JSON encoding
func PlanHash(plan []SubBlocksForShard) common.Hash {
	data, _ := json.Marshal(plan)
	return crypto.Keccak256Hash(data)
}

// NumRounds is the number of rounds a plan uses
func NumRounds(plan []SubBlocksForShard) int {
	rounds := 0
	for i := range plan {
		if n := plan[i].NumSubBlocks(); n > rounds {
			rounds = n
		}
	}
	return rounds
}
