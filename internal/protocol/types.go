package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Transaction is the opaque payload carried through partitioning
type Transaction struct {
	Hash     common.Hash    `json:"hash"`
	Sender   common.Address `json:"sender"`
	Receiver common.Address `json:"receiver"`
	Nonce    uint64         `json:"nonce"`
	Value    *uint256.Int   `json:"value,omitempty"`
	Data     []byte         `json:"data,omitempty"`
}

// LocationKey identifies a storage location independent of any session id.
// It is the map key used wherever locations are compared.
type LocationKey struct {
	Address common.Address
	Slot    common.Hash
}

// StorageLocation is an abstract storage key a transaction reads or writes.
// The session id is assigned by a keyspace session and is only meaningful
// within one partitioning call.
type StorageLocation struct {
	Address common.Address `json:"address"`
	Slot    common.Hash    `json:"slot"`

	sessionID    uint32
	hasSessionID bool
}

// AccountLocation is the account-level resource of addr (zero slot)
func AccountLocation(addr common.Address) StorageLocation {
	return StorageLocation{Address: addr}
}

// ResourceLocation is a named resource under addr; the slot is keccak256(tag)
func ResourceLocation(addr common.Address, tag string) StorageLocation {
	return StorageLocation{Address: addr, Slot: crypto.Keccak256Hash([]byte(tag))}
}

func (l StorageLocation) Key() LocationKey {
	return LocationKey{Address: l.Address, Slot: l.Slot}
}

// WithSessionID returns a copy of l carrying the dense id
func (l StorageLocation) WithSessionID(id uint32) StorageLocation {
	l.sessionID = id
	l.hasSessionID = true
	return l
}

// SessionID returns the dense id, if one was assigned
func (l StorageLocation) SessionID() (uint32, bool) {
	return l.sessionID, l.hasSessionID
}

// MustSessionID returns the dense id and panics when none was assigned.
// Edge construction indexes its ownership table with it.
func (l StorageLocation) MustSessionID() uint32 {
	if !l.hasSessionID {
		panic("protocol: storage location " + l.Address.Hex() + "/" + l.Slot.Hex() + " has no session id")
	}
	return l.sessionID
}

// AnalyzedTransaction is a transaction annotated with its statically known
// read and write hints
type AnalyzedTransaction struct {
	Txn        *Transaction      `json:"txn"`
	ReadHints  []StorageLocation `json:"read_hints"`
	WriteHints []StorageLocation `json:"write_hints"`
}

func NewAnalyzedTransaction(txn *Transaction, reads, writes []StorageLocation) AnalyzedTransaction {
	return AnalyzedTransaction{Txn: txn, ReadHints: reads, WriteHints: writes}
}

func (t AnalyzedTransaction) Sender() common.Address {
	return t.Txn.Sender
}

// IntoTxn drops the hints and returns the payload
func (t AnalyzedTransaction) IntoTxn() *Transaction {
	return t.Txn
}

// ShardedTxnIndex is the address of a transaction in an execution plan
type ShardedTxnIndex struct {
	TxnIndex int `json:"txn_index"`
	ShardID  int `json:"shard_id"`
	RoundID  int `json:"round_id"`
}

func (i ShardedTxnIndex) Less(other ShardedTxnIndex) bool {
	return i.TxnIndex < other.TxnIndex
}
