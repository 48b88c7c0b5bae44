// Package workload builds reproducible blocks of analyzed peer-to-peer
// transfers for benchmarks, the HTTP service and tests.
package workload

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/sharding-experiment/blockpartitioner/internal/protocol"
)

const coinStoreTag = "coin_store"

// Accounts returns n deterministic addresses
func Accounts(n int) []common.Address {
	addrs := make([]common.Address, n)
	for i := range addrs {
		seed := fmt.Sprintf("partitioner-test-account-%d", i)
		hash := sha256.Sum256([]byte(seed))
		addrs[i] = common.BytesToAddress(hash[:])
	}
	return addrs
}

// CoinStore is the balance resource of addr
func CoinStore(addr common.Address) protocol.StorageLocation {
	return protocol.ResourceLocation(addr, coinStoreTag)
}

// P2PTransfer moves one unit from `from` to `to`. It reads the sender's
// account (sequence number) and writes the sender's account and both coin stores.
func P2PTransfer(from, to common.Address, nonce uint64) protocol.AnalyzedTransaction {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	txn := &protocol.Transaction{
		Hash:     crypto.Keccak256Hash(from.Bytes(), to.Bytes(), buf[:]),
		Sender:   from,
		Receiver: to,
		Nonce:    nonce,
		Value:    uint256.NewInt(1),
	}
	return protocol.NewAnalyzedTransaction(txn,
		[]protocol.StorageLocation{protocol.AccountLocation(from)},
		[]protocol.StorageLocation{
			protocol.AccountLocation(from),
			CoinStore(from),
			CoinStore(to),
		},
	)
}

// Generator produces blocks of random transfers between a fixed set of accounts
type Generator struct {
	// NumAccounts is the size of the account universe (at least 2)
	NumAccounts int
	// HotRatio is the share of transfers whose receiver is account 0
	HotRatio float64
	Seed     int64
}

// Block returns n transfers. The same Generator always yields the same block.
func (g Generator) Block(n int) []protocol.AnalyzedTransaction {
	if g.NumAccounts < 2 {
		panic("workload: need at least two accounts")
	}
	addrs := Accounts(g.NumAccounts)
	nonces := make(map[common.Address]uint64, g.NumAccounts)
	rng := rand.New(rand.NewSource(g.Seed))

	txns := make([]protocol.AnalyzedTransaction, 0, n)
	for i := 0; i < n; i++ {
		from := addrs[rng.Intn(len(addrs))]
		var to common.Address
		if rng.Float64() < g.HotRatio {
			to = addrs[0]
		} else {
			to = addrs[rng.Intn(len(addrs))]
		}
		for to == from {
			to = addrs[rng.Intn(len(addrs))]
		}
		txns = append(txns, P2PTransfer(from, to, nonces[from]))
		nonces[from]++
	}
	return txns
}
