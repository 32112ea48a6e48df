// Package memory implements the storage contract entirely in memory using
// maps. It backs the tests and any run where durability doesn't matter.
package memory

import (
	"fmt"
	"sync"

	"github.com/nomledger/nomledger/foundation/ledger/storage"
)

// Memory represents the in-memory storage engine. This implements the
// storage.Store interface.
type Memory struct {
	mu     sync.RWMutex
	chains map[string]*tables
}

// tables holds the per-chain state the engine maintains.
type tables struct {
	blocks  map[uint64]storage.BlockRow
	hashes  map[uint64][]string
	txIndex map[string]storage.TxIndexRecord
	staged  map[uint64][]storage.TxRecord
	byHash  map[string]uint64
	byPrev  map[string]uint64
}

// New constructs a Memory value for use.
func New() (*Memory, error) {
	return &Memory{
		chains: make(map[string]*tables),
	}, nil
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// InitializeChain prepares the tables for the named chain, wiping any
// existing state first when reset is true.
func (m *Memory) InitializeChain(name string, reset bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.chains[name]; !exists || reset {
		m.chains[name] = newTables()
	}

	return nil
}

// LastBlock returns the highest committed block's metadata row.
func (m *Memory) LastBlock(name string) (storage.BlockRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.tables(name)
	if err != nil {
		return storage.BlockRow{}, false, err
	}

	var last storage.BlockRow
	var found bool
	for idx, row := range t.blocks {
		if !found || idx > last.Index {
			last = row
			found = true
		}
	}

	return last, found, nil
}

// FindTransactionByHash looks the hash up in the chain's transaction index.
func (m *Memory) FindTransactionByHash(name string, hash string) (storage.TxIndexRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.tables(name)
	if err != nil {
		return storage.TxIndexRecord{}, err
	}

	rec, exists := t.txIndex[hash]
	if !exists {
		return storage.TxIndexRecord{}, storage.ErrNotFound
	}

	return rec, nil
}

// LoadBlock reconstructs a committed block's row and ordered hash list.
func (m *Memory) LoadBlock(name string, index uint64) (storage.BlockRow, []string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.tables(name)
	if err != nil {
		return storage.BlockRow{}, nil, err
	}

	row, exists := t.blocks[index]
	if !exists {
		return storage.BlockRow{}, nil, storage.ErrNotFound
	}

	hashes := make([]string, len(t.hashes[index]))
	copy(hashes, t.hashes[index])

	return row, hashes, nil
}

// OpenBlock opens the dedicated handle for the block at the specified index.
func (m *Memory) OpenBlock(name string, index uint64) (storage.BlockStore, error) {
	m.mu.RLock()
	_, err := m.tables(name)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	return &blockStore{mem: m, name: name, index: index}, nil
}

// DeleteChain removes everything the engine holds for the named chain.
func (m *Memory) DeleteChain(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.chains, name)
	return nil
}

// tables returns the state for the named chain. Callers hold the lock.
func (m *Memory) tables(name string) (*tables, error) {
	t, exists := m.chains[name]
	if !exists {
		return nil, fmt.Errorf("chain %q is not initialized", name)
	}
	return t, nil
}

func newTables() *tables {
	return &tables{
		blocks:  make(map[uint64]storage.BlockRow),
		hashes:  make(map[uint64][]string),
		txIndex: make(map[string]storage.TxIndexRecord),
		staged:  make(map[uint64][]storage.TxRecord),
		byHash:  make(map[string]uint64),
		byPrev:  make(map[string]uint64),
	}
}

// =============================================================================

// blockStore is the per-block handle. This implements the storage.BlockStore
// interface.
type blockStore struct {
	mem   *Memory
	name  string
	index uint64
}

// Reset drops any staged records for this block's index.
func (bs *blockStore) Reset() error {
	bs.mem.mu.Lock()
	defer bs.mem.mu.Unlock()

	t, err := bs.mem.tables(bs.name)
	if err != nil {
		return err
	}

	t.staged[bs.index] = nil
	return nil
}

// AddTransaction persists the record at the specified position.
func (bs *blockStore) AddTransaction(rec storage.TxRecord, position int) error {
	bs.mem.mu.Lock()
	defer bs.mem.mu.Unlock()

	t, err := bs.mem.tables(bs.name)
	if err != nil {
		return err
	}

	staged := t.staged[bs.index]
	if position != len(staged) {
		return fmt.Errorf("transaction out of order, position %d, expected %d", position, len(staged))
	}

	t.staged[bs.index] = append(staged, rec)
	return nil
}

// TransactionHashes returns the ordered hash list as persisted.
func (bs *blockStore) TransactionHashes() ([]string, error) {
	bs.mem.mu.RLock()
	defer bs.mem.mu.RUnlock()

	t, err := bs.mem.tables(bs.name)
	if err != nil {
		return nil, err
	}

	staged := t.staged[bs.index]
	hashes := make([]string, len(staged))
	for i, rec := range staged {
		hashes[i] = rec.Hash
	}

	return hashes, nil
}

// TransactionRecords returns the full ordered records as persisted.
func (bs *blockStore) TransactionRecords() ([]storage.TxRecord, error) {
	bs.mem.mu.RLock()
	defer bs.mem.mu.RUnlock()

	t, err := bs.mem.tables(bs.name)
	if err != nil {
		return nil, err
	}

	records := make([]storage.TxRecord, len(t.staged[bs.index]))
	copy(records, t.staged[bs.index])

	return records, nil
}

// Commit writes the block row and one index row per transaction hash.
func (bs *blockStore) Commit(row storage.BlockRow) error {
	bs.mem.mu.Lock()
	defer bs.mem.mu.Unlock()

	t, err := bs.mem.tables(bs.name)
	if err != nil {
		return err
	}

	if _, exists := t.blocks[row.Index]; exists {
		return fmt.Errorf("block %d already committed", row.Index)
	}
	if idx, exists := t.byHash[row.Hash]; exists {
		return fmt.Errorf("block hash already used by block %d", idx)
	}
	if idx, exists := t.byPrev[row.PreviousHash]; exists && row.Index > 0 {
		return fmt.Errorf("previous hash already linked by block %d", idx)
	}

	staged := t.staged[bs.index]
	hashes := make([]string, len(staged))
	for i, rec := range staged {
		if _, exists := t.txIndex[rec.Hash]; exists {
			return fmt.Errorf("transaction %s already indexed", rec.Hash)
		}
		hashes[i] = rec.Hash
	}

	t.blocks[row.Index] = row
	t.hashes[row.Index] = hashes
	t.byHash[row.Hash] = row.Index
	t.byPrev[row.PreviousHash] = row.Index
	for _, rec := range staged {
		t.txIndex[rec.Hash] = storage.TxIndexRecord{Hash: rec.Hash, BlockIndex: row.Index}
	}
	delete(t.staged, bs.index)

	return nil
}

// Delete removes the staged artifacts for this block.
func (bs *blockStore) Delete() error {
	return bs.Reset()
}

// Close in this implementation has nothing to do.
func (bs *blockStore) Close() error {
	return nil
}
