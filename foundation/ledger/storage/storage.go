// Package storage defines the contract any persistence engine must implement
// to back a chain. The core never talks to an engine directly, only through
// these interfaces.
package storage

import "errors"

// ErrNotFound is returned when a block or transaction does not exist in
// storage. Callers treat this as an absent result, not a failure.
var ErrNotFound = errors.New("not found")

// BlockRow is the block metadata row persisted at commit time. The hash and
// previous hash are each unique across the chain: every block has exactly
// one successor.
type BlockRow struct {
	Index        uint64 `json:"index"`
	Hash         string `json:"hash"`
	PreviousHash string `json:"previous_hash"`
	Length       int    `json:"length"`
	Entropy      uint64 `json:"entropy"`
	TimeStamp    uint64 `json:"timestamp"`
}

// TxRecord is the raw transaction record persisted while a block is open,
// keyed by its position inside the block.
type TxRecord struct {
	Hash   string `json:"hash"`
	FromID string `json:"origin,omitempty"`
	ToID   string `json:"destination,omitempty"`
	Amount uint64 `json:"amount"`
}

// TxIndexRecord maps a transaction hash to the block that holds it.
type TxIndexRecord struct {
	Hash       string `json:"hash"`
	BlockIndex uint64 `json:"block_index"`
}

// =============================================================================

// Store represents the behavior required to be implemented by any engine
// providing chain level persistence.
type Store interface {

	// InitializeChain prepares the backing tables for the named chain. With
	// reset true every existing artifact for the chain is destroyed first.
	InitializeChain(name string, reset bool) error

	// LastBlock returns the metadata row of the highest committed block.
	// The bool reports whether any block has been committed.
	LastBlock(name string) (BlockRow, bool, error)

	// FindTransactionByHash looks the hash up in the chain's transaction
	// index. Returns ErrNotFound when the hash is unknown.
	FindTransactionByHash(name string, hash string) (TxIndexRecord, error)

	// LoadBlock reconstructs a committed block's metadata row and its
	// ordered transaction hash list. Returns ErrNotFound when the block
	// was never committed.
	LoadBlock(name string, index uint64) (BlockRow, []string, error)

	// OpenBlock opens the dedicated storage handle for the block at the
	// specified index. The handle starts dirty: callers reset it before
	// writing transactions.
	OpenBlock(name string, index uint64) (BlockStore, error)

	// DeleteChain removes every artifact belonging to the named chain.
	DeleteChain(name string) error

	// Close releases the engine.
	Close() error
}

// BlockStore represents the dedicated storage handle for one block. Only the
// block owning the handle writes through it.
type BlockStore interface {

	// Reset destroys any pre-existing artifacts for this block's index and
	// prepares fresh per-block storage.
	Reset() error

	// AddTransaction persists the raw transaction record at the specified
	// position. Positions are written in insertion order.
	AddTransaction(rec TxRecord, position int) error

	// TransactionHashes returns the ordered transaction hash list as it is
	// persisted, independent of any in-memory copy.
	TransactionHashes() ([]string, error)

	// TransactionRecords returns the full ordered records. Richer than the
	// core needs; engines back it so callers can list transfers.
	TransactionRecords() ([]TxRecord, error)

	// Commit writes the block metadata row to the chain block table and one
	// index row per transaction hash. The unique hash constraint rejects
	// duplicate index rows.
	Commit(row BlockRow) error

	// Delete removes the per-block artifacts without touching committed rows.
	Delete() error

	// Close releases the handle.
	Close() error
}
