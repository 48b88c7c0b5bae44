package keyspace

import (
	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

// Session assigns dense ids to storage locations for one partitioning call.
// Ids are handed out in first-seen order, so the same block always yields the
// same ids. A Session is not safe for concurrent use.
type Session struct {
	ids map[protocol.LocationKey]uint32
}

func NewSession() *Session {
	return &Session{ids: make(map[protocol.LocationKey]uint32)}
}

// Assign returns loc carrying its session id, allocating one on first sight
func (s *Session) Assign(loc protocol.StorageLocation) protocol.StorageLocation {
	key := loc.Key()
	id, ok := s.ids[key]
	if !ok {
		id = uint32(len(s.ids))
		s.ids[key] = id
	}
	return loc.WithSessionID(id)
}

// Lookup returns the id of loc without allocating
func (s *Session) Lookup(loc protocol.StorageLocation) (uint32, bool) {
	id, ok := s.ids[loc.Key()]
	return id, ok
}

// Annotate returns copies of txns whose hints carry session ids. Read hints
// of a transaction are visited before its write hints. The input is not modified.
func (s *Session) Annotate(txns []protocol.AnalyzedTransaction) []protocol.AnalyzedTransaction {
	out := make([]protocol.AnalyzedTransaction, len(txns))
	for i, txn := range txns {
		out[i] = protocol.AnalyzedTransaction{
			Txn:        txn.Txn,
			ReadHints:  s.assignAll(txn.ReadHints),
			WriteHints: s.assignAll(txn.WriteHints),
		}
	}
	return out
}

func (s *Session) assignAll(locs []protocol.StorageLocation) []protocol.StorageLocation {
	if locs == nil {
		return nil
	}
	out := make([]protocol.StorageLocation, len(locs))
	for i, loc := range locs {
		out[i] = s.Assign(loc)
	}
	return out
}

// NumKeys is the number of distinct locations seen, the upper bound on ids
func (s *Session) NumKeys() int {
	return len(s.ids)
}
