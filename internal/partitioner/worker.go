package partitioner

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/blockpartitioner/internal/log"
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

// worker owns one shard's end of the mesh. It runs until its control channel
// is closed.
type worker struct {
	shardID   int
	numShards int
	ctrl      <-chan discardRequest
	results   chan<- partitioningResp
	// inbound[p] carries peer p's rwSet; nil for the worker itself
	inbound  []<-chan *rwSet
	outbound []chan<- *rwSet
	logger   log.Logger
}

func (w *worker) run() {
	for req := range w.ctrl {
		w.results <- w.discardTxnsWithCrossShardDeps(req)
	}
}

func (w *worker) discardTxnsWithCrossShardDeps(req discardRequest) partitioningResp {
	own := newRWSet(w.shardID, req.roundID, numHints(req.transactions))
	for _, txn := range req.transactions {
		own.add(txn)
	}
	w.broadcast(own)
	peers := w.collect(req.roundID)

	detector := newConflictDetector(w.shardID, peers, own.size())
	resp := detector.discard(req.transactions)

	w.logger.Debugw("Worker: round processed",
		"shard", w.shardID, "round", req.roundID,
		"accepted", len(resp.accepted), "discarded", len(resp.discarded))
	return resp
}

// broadcast never blocks: every peer channel has room for one round
func (w *worker) broadcast(set *rwSet) {
	for peer, ch := range w.outbound {
		if peer == w.shardID {
			continue
		}
		ch <- set
	}
}

func (w *worker) collect(roundID int) []*rwSet {
	sets := make([]*rwSet, w.numShards)
	for peer, ch := range w.inbound {
		if peer == w.shardID {
			continue
		}
		set, ok := <-ch
		if !ok {
			panic(fmt.Sprintf("partitioner: shard %d lost peer %d", w.shardID, peer))
		}
		if set.roundID != roundID {
			panic(fmt.Sprintf("partitioner: shard %d got round %d from peer %d while in round %d",
				w.shardID, set.roundID, peer, roundID))
		}
		sets[peer] = set
	}
	return sets
}

// conflictDetector decides which of one shard's candidates stay in the round.
// Lower shard ids take priority: a candidate is dropped when a lower shard
// holds a conflicting lock on one of its keys.
type conflictDetector struct {
	shardID int
	peers   []*rwSet

	discardedSenders map[common.Address]struct{}
	discarded        *rwSet
}

func newConflictDetector(shardID int, peers []*rwSet, expectedKeys int) *conflictDetector {
	return &conflictDetector{
		shardID:          shardID,
		peers:            peers,
		discardedSenders: make(map[common.Address]struct{}),
		discarded:        newRWSet(shardID, -1, expectedKeys),
	}
}

func (d *conflictDetector) discard(txns []protocol.AnalyzedTransaction) partitioningResp {
	var resp partitioningResp
	for _, txn := range txns {
		if d.mustDiscard(txn) {
			d.discardedSenders[txn.Sender()] = struct{}{}
			d.discarded.add(txn)
			resp.discarded = append(resp.discarded, txn)
			continue
		}
		resp.accepted = append(resp.accepted, txn)
	}
	return resp
}

func (d *conflictDetector) mustDiscard(txn protocol.AnalyzedTransaction) bool {
	// later transactions of a sender never overtake an earlier discarded one
	if _, ok := d.discardedSenders[txn.Sender()]; ok {
		return true
	}
	// nor may a transaction overtake a conflicting one discarded before it
	if conflicts(txn, d.discarded) {
		return true
	}
	for peer := 0; peer < d.shardID; peer++ {
		if conflicts(txn, d.peers[peer]) {
			return true
		}
	}
	return false
}

func conflicts(txn protocol.AnalyzedTransaction, set *rwSet) bool {
	if set == nil {
		return false
	}
	for _, loc := range txn.ReadHints {
		if set.hasWriteLock(loc.Key()) {
			return true
		}
	}
	for _, loc := range txn.WriteHints {
		if set.hasReadOrWriteLock(loc.Key()) {
			return true
		}
	}
	return false
}
