package partitioner

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sharding-experiment/blockpartitioner/internal/log"
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

// workerPool is one long-lived worker per shard, fully meshed: every ordered
// pair of workers has a dedicated one-way channel.
type workerPool struct {
	ctrl    []chan discardRequest
	results []chan partitioningResp
	group   errgroup.Group
}

func newWorkerPool(numShards int, logger log.Logger) *workerPool {
	mesh := make([][]chan *rwSet, numShards)
	for from := range mesh {
		mesh[from] = make([]chan *rwSet, numShards)
		for to := range mesh[from] {
			if from != to {
				mesh[from][to] = make(chan *rwSet, 1)
			}
		}
	}

	p := &workerPool{
		ctrl:    make([]chan discardRequest, numShards),
		results: make([]chan partitioningResp, numShards),
	}
	for shardID := 0; shardID < numShards; shardID++ {
		p.ctrl[shardID] = make(chan discardRequest, 1)
		p.results[shardID] = make(chan partitioningResp, 1)

		w := &worker{
			shardID:   shardID,
			numShards: numShards,
			ctrl:      p.ctrl[shardID],
			results:   p.results[shardID],
			inbound:   make([]<-chan *rwSet, numShards),
			outbound:  make([]chan<- *rwSet, numShards),
			logger:    logger,
		}
		for peer := 0; peer < numShards; peer++ {
			if peer == shardID {
				continue
			}
			w.inbound[peer] = mesh[peer][shardID]
			w.outbound[peer] = mesh[shardID][peer]
		}
		p.spawn(w)
	}
	return p
}

// spawn runs w until its control channel closes. A failing worker closes its
// outbound channels so that peers and the orchestrator fail instead of
// waiting on it forever.
func (p *workerPool) spawn(w *worker) {
	p.group.Go(func() (err error) {
		defer func() {
			for peer, ch := range w.outbound {
				if peer != w.shardID {
					close(ch)
				}
			}
			close(w.results)
		}()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("shard %d worker panicked: %v", w.shardID, r)
			}
		}()
		w.run()
		return nil
	})
}

func (p *workerPool) numShards() int {
	return len(p.ctrl)
}

// round sends every shard its candidates and blocks until all shards reply.
// A worker that went away is fatal.
func (p *workerPool) round(roundID int, candidates [][]protocol.AnalyzedTransaction) (accepted, discarded [][]protocol.AnalyzedTransaction) {
	for shardID, txns := range candidates {
		p.ctrl[shardID] <- discardRequest{transactions: txns, roundID: roundID}
	}
	accepted = make([][]protocol.AnalyzedTransaction, len(candidates))
	discarded = make([][]protocol.AnalyzedTransaction, len(candidates))
	for shardID := range candidates {
		resp, ok := <-p.results[shardID]
		if !ok {
			panic(fmt.Sprintf("partitioner: shard %d worker exited during round %d", shardID, roundID))
		}
		accepted[shardID] = resp.accepted
		discarded[shardID] = resp.discarded
	}
	return accepted, discarded
}

// close stops every worker and waits for them to exit
func (p *workerPool) close() error {
	for _, ch := range p.ctrl {
		close(ch)
	}
	return p.group.Wait()
}
