package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sharding-experiment/blockpartitioner/config"
	"github.com/sharding-experiment/blockpartitioner/internal/keyspace"
	"github.com/sharding-experiment/blockpartitioner/internal/log"
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

const (
	MaxRequestBytes = 64 << 20
	ShutdownTimeout = 5 * time.Second

	// CacheHeader reports whether a plan was served from the cache
	CacheHeader = "X-Plan-Cache"
)

// Partitioner is the part of the sharded partitioner the service drives
type Partitioner interface {
	Partition(txns []protocol.AnalyzedTransaction, numShards, numKeys int) []protocol.SubBlocksForShard
	Config() config.PartitionerConfig
}

// PartitionRequest is the body of POST /partition
type PartitionRequest struct {
	Transactions []protocol.AnalyzedTransaction `json:"transactions"`
}

// PlanResponse is the reply to POST /partition
type PlanResponse struct {
	RequestID string                       `json:"request_id"`
	PlanHash  common.Hash                  `json:"plan_hash"`
	NumRounds int                          `json:"num_rounds"`
	Shards    []protocol.SubBlocksForShard `json:"shards"`
}

// Service exposes a partitioner over HTTP. Plans are cached by request body,
// which is sound because partitioning the same block always yields the same plan.
type Service struct {
	router      *mux.Router
	partitioner Partitioner
	numShards   int
	cache       *fastcache.Cache
	logger      log.Logger
}

func NewService(p Partitioner, numShards, cacheBytes int, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Service{
		router:      mux.NewRouter(),
		partitioner: p,
		numShards:   numShards,
		cache:       fastcache.New(cacheBytes),
		logger:      logger,
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP router for testing
func (s *Service) Router() *mux.Router {
	return s.router
}

// Close drops every cached plan
func (s *Service) Close() {
	s.cache.Reset()
}

func (s *Service) setupRoutes() {
	s.router.HandleFunc("/partition", s.handlePartition).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/config", s.handleConfig).Methods("GET")
}

// Run serves on port until ctx is cancelled, then shuts down gracefully
func (s *Service) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("Service: listening", "addr", srv.Addr, "shards", s.numShards)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Service) handlePartition(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	key := crypto.Keccak256(body)
	if cached := s.cache.GetBig(nil, key); cached != nil {
		var resp PlanResponse
		if err := json.Unmarshal(cached, &resp); err == nil {
			resp.RequestID = requestID
			s.logger.Debugw("Service: plan cache hit", "request", requestID, "plan", resp.PlanHash.Hex())
			w.Header().Set(CacheHeader, "hit")
			writeJSON(w, resp)
			return
		}
		s.cache.Del(key)
	}

	var req PartitionRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	for i, txn := range req.Transactions {
		if txn.Txn == nil {
			http.Error(w, fmt.Sprintf("transaction %d has no payload", i), http.StatusBadRequest)
			return
		}
	}

	plan, err := s.partition(req.Transactions)
	if err != nil {
		s.logger.Errorw("Service: partition failed", "request", requestID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := PlanResponse{
		PlanHash:  protocol.PlanHash(plan),
		NumRounds: protocol.NumRounds(plan),
		Shards:    plan,
	}
	if data, err := json.Marshal(resp); err == nil {
		s.cache.SetBig(key, data)
	}
	resp.RequestID = requestID

	s.logger.Infow("Service: block partitioned",
		"request", requestID, "txns", len(req.Transactions),
		"rounds", resp.NumRounds, "plan", resp.PlanHash.Hex())
	w.Header().Set(CacheHeader, "miss")
	writeJSON(w, resp)
}

// partition annotates txns with a fresh session and turns a partitioner
// panic into an error
func (s *Service) partition(txns []protocol.AnalyzedTransaction) (plan []protocol.SubBlocksForShard, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("partition: %v", r)
		}
	}()
	session := keyspace.NewSession()
	annotated := session.Annotate(txns)
	return s.partitioner.Partition(annotated, s.numShards, session.NumKeys()), nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Service) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"shard_num":   s.numShards,
		"partitioner": s.partitioner.Config(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
