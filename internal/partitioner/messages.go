package partitioner

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	bloomfilter "github.com/holiman/bloomfilter/v2"

	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

// minFilterKeys keeps tiny sets from building a degenerate filter
const minFilterKeys = 64

// discardRequest asks a worker to drop the candidates that conflict with
// other shards in this round
type discardRequest struct {
	transactions []protocol.AnalyzedTransaction
	roundID      int
}

type partitioningResp struct {
	accepted  []protocol.AnalyzedTransaction
	discarded []protocol.AnalyzedTransaction
}

type keySet map[protocol.LocationKey]struct{}

func (s keySet) has(k protocol.LocationKey) bool {
	_, ok := s[k]
	return ok
}

// rwSet is the union of the hints of one shard's candidates, broadcast to
// every peer. It is never mutated after it is sent.
type rwSet struct {
	shardID int
	roundID int
	reads   keySet
	writes  keySet
	// touched holds every key of the set; a miss there answers both lookups
	touched *bloomfilter.Filter
}

func newRWSet(shardID, roundID, expectedKeys int) *rwSet {
	touched, err := bloomfilter.NewOptimal(uint64(max(expectedKeys, minFilterKeys)), 0.01)
	if err != nil {
		panic(fmt.Sprintf("partitioner: key filter for %d keys: %v", expectedKeys, err))
	}
	return &rwSet{
		shardID: shardID,
		roundID: roundID,
		reads:   make(keySet),
		writes:  make(keySet),
		touched: touched,
	}
}

func (s *rwSet) add(txn protocol.AnalyzedTransaction) {
	for _, loc := range txn.ReadHints {
		k := loc.Key()
		s.reads[k] = struct{}{}
		s.touched.AddHash(keyHash(k))
	}
	for _, loc := range txn.WriteHints {
		k := loc.Key()
		s.writes[k] = struct{}{}
		s.touched.AddHash(keyHash(k))
	}
}

func (s *rwSet) hasWriteLock(k protocol.LocationKey) bool {
	return s.touched.ContainsHash(keyHash(k)) && s.writes.has(k)
}

func (s *rwSet) hasReadOrWriteLock(k protocol.LocationKey) bool {
	if !s.touched.ContainsHash(keyHash(k)) {
		return false
	}
	return s.reads.has(k) || s.writes.has(k)
}

func (s *rwSet) size() int {
	return len(s.reads) + len(s.writes)
}

func keyHash(k protocol.LocationKey) uint64 {
	var buf [common.AddressLength + common.HashLength]byte
	copy(buf[:], k.Address[:])
	copy(buf[common.AddressLength:], k.Slot[:])
	return xxhash.Sum64(buf[:])
}

// numHints counts the hints of txns, an upper bound on their distinct keys
func numHints(txns []protocol.AnalyzedTransaction) int {
	n := 0
	for _, txn := range txns {
		n += len(txn.ReadHints) + len(txn.WriteHints)
	}
	return n
}
