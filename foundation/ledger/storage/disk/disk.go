// Package disk implements the storage contract with JSON files on disk. Each
// artifact's file name carries the chain name, so a chain reset only has to
// remove the files whose name contains it.
package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/nomledger/nomledger/foundation/ledger/storage"
)

// Disk represents the file based storage engine. This implements the
// storage.Store interface.
type Disk struct {
	mu   sync.Mutex
	root string
}

// New constructs a Disk value rooted at the specified directory.
func New(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}

	return &Disk{root: root}, nil
}

// Close in this implementation has nothing to do since every write opens
// and closes its own file.
func (d *Disk) Close() error {
	return nil
}

// InitializeChain prepares the directory for the named chain. With reset
// true every file whose name contains the chain name is removed first.
func (d *Disk) InitializeChain(name string, reset bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.root, 0755); err != nil {
		return err
	}

	if !reset {
		return nil
	}

	return d.removeChainFiles(name)
}

// LastBlock scans the committed block files and returns the row with the
// highest index.
func (d *Disk) LastBlock(name string) (storage.BlockRow, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.root)
	if err != nil {
		return storage.BlockRow{}, false, err
	}

	prefix := fmt.Sprintf("%s.block.", name)

	var best uint64
	var found bool
	for _, entry := range entries {
		fname := entry.Name()
		if !strings.HasPrefix(fname, prefix) || !strings.HasSuffix(fname, ".json") {
			continue
		}

		num := strings.TrimSuffix(strings.TrimPrefix(fname, prefix), ".json")
		index, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			continue
		}

		if !found || index > best {
			best = index
			found = true
		}
	}

	if !found {
		return storage.BlockRow{}, false, nil
	}

	var bf blockFile
	if err := d.readJSON(d.blockPath(name, best), &bf); err != nil {
		return storage.BlockRow{}, false, err
	}

	return bf.Row, true, nil
}

// FindTransactionByHash looks the hash up in the chain's index file.
func (d *Disk) FindTransactionByHash(name string, hash string) (storage.TxIndexRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	index, err := d.readTxIndex(name)
	if err != nil {
		return storage.TxIndexRecord{}, err
	}

	blockIndex, exists := index[hash]
	if !exists {
		return storage.TxIndexRecord{}, storage.ErrNotFound
	}

	return storage.TxIndexRecord{Hash: hash, BlockIndex: blockIndex}, nil
}

// LoadBlock reads a committed block file.
func (d *Disk) LoadBlock(name string, index uint64) (storage.BlockRow, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var bf blockFile
	if err := d.readJSON(d.blockPath(name, index), &bf); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.BlockRow{}, nil, storage.ErrNotFound
		}
		return storage.BlockRow{}, nil, err
	}

	hashes := make([]string, len(bf.Records))
	for i, rec := range bf.Records {
		hashes[i] = rec.Hash
	}

	return bf.Row, hashes, nil
}

// OpenBlock opens the dedicated handle for the block at the specified index.
func (d *Disk) OpenBlock(name string, index uint64) (storage.BlockStore, error) {
	return &blockStore{disk: d, name: name, index: index}, nil
}

// DeleteChain removes every file whose name contains the chain name.
func (d *Disk) DeleteChain(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.removeChainFiles(name)
}

// =============================================================================

// blockFile is what a committed block file holds.
type blockFile struct {
	Row     storage.BlockRow   `json:"row"`
	Records []storage.TxRecord `json:"transactions"`
}

// blockPath forms the path to the specified committed block file.
func (d *Disk) blockPath(name string, index uint64) string {
	return filepath.Join(d.root, fmt.Sprintf("%s.block.%d.json", name, index))
}

// stagePath forms the path to the specified open block's staging file.
func (d *Disk) stagePath(name string, index uint64) string {
	return filepath.Join(d.root, fmt.Sprintf("%s.stage.%d.json", name, index))
}

// txIndexPath forms the path to the chain's transaction index file.
func (d *Disk) txIndexPath(name string) string {
	return filepath.Join(d.root, fmt.Sprintf("%s.txindex.json", name))
}

// removeChainFiles deletes every file in the root whose name contains the
// chain name. Callers hold the lock.
func (d *Disk) removeChainFiles(name string) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), name) {
			continue
		}
		if err := os.Remove(filepath.Join(d.root, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

// readJSON decodes the file at path into v.
func (d *Disk) readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewDecoder(f).Decode(v)
}

// writeJSON writes v to the file at path in a human readable format.
func (d *Disk) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// readTxIndex reads the chain's hash to block index mapping. A missing file
// means an empty index.
func (d *Disk) readTxIndex(name string) (map[string]uint64, error) {
	index := make(map[string]uint64)

	err := d.readJSON(d.txIndexPath(name), &index)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return index, nil
}

// readStage reads an open block's staged records. A missing file means an
// empty stage.
func (d *Disk) readStage(name string, index uint64) ([]storage.TxRecord, error) {
	var records []storage.TxRecord

	err := d.readJSON(d.stagePath(name, index), &records)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return records, nil
}

// =============================================================================

// blockStore is the per-block handle. This implements the storage.BlockStore
// interface.
type blockStore struct {
	disk  *Disk
	name  string
	index uint64
}

// Reset removes any pre-existing staging file for this block's index.
func (bs *blockStore) Reset() error {
	bs.disk.mu.Lock()
	defer bs.disk.mu.Unlock()

	err := os.Remove(bs.disk.stagePath(bs.name, bs.index))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// AddTransaction appends the record to the staging file at its position.
func (bs *blockStore) AddTransaction(rec storage.TxRecord, position int) error {
	bs.disk.mu.Lock()
	defer bs.disk.mu.Unlock()

	records, err := bs.disk.readStage(bs.name, bs.index)
	if err != nil {
		return err
	}

	if position != len(records) {
		return fmt.Errorf("transaction out of order, position %d, expected %d", position, len(records))
	}

	records = append(records, rec)
	return bs.disk.writeJSON(bs.disk.stagePath(bs.name, bs.index), records)
}

// TransactionHashes returns the ordered hash list from the staging file.
func (bs *blockStore) TransactionHashes() ([]string, error) {
	records, err := bs.TransactionRecords()
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(records))
	for i, rec := range records {
		hashes[i] = rec.Hash
	}

	return hashes, nil
}

// TransactionRecords returns the full ordered records from the staging file.
func (bs *blockStore) TransactionRecords() ([]storage.TxRecord, error) {
	bs.disk.mu.Lock()
	defer bs.disk.mu.Unlock()

	return bs.disk.readStage(bs.name, bs.index)
}

// Commit promotes the staged records into a committed block file, updates
// the transaction index, and removes the staging file.
func (bs *blockStore) Commit(row storage.BlockRow) error {
	bs.disk.mu.Lock()
	defer bs.disk.mu.Unlock()

	blockPath := bs.disk.blockPath(bs.name, bs.index)
	if _, err := os.Stat(blockPath); err == nil {
		return fmt.Errorf("block %d already committed", bs.index)
	}

	records, err := bs.disk.readStage(bs.name, bs.index)
	if err != nil {
		return err
	}

	index, err := bs.disk.readTxIndex(bs.name)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if _, exists := index[rec.Hash]; exists {
			return fmt.Errorf("transaction %s already indexed", rec.Hash)
		}
	}
	for _, rec := range records {
		index[rec.Hash] = row.Index
	}

	// Both artifacts are staged to temp files and promoted by rename. The
	// index is promoted first; the block file rename is the commit point,
	// so a committed block file always has its transactions in the index.
	indexPath := bs.disk.txIndexPath(bs.name)
	if err := bs.disk.writeJSON(indexPath+".tmp", index); err != nil {
		return err
	}
	if err := bs.disk.writeJSON(blockPath+".tmp", blockFile{Row: row, Records: records}); err != nil {
		return err
	}
	if err := os.Rename(indexPath+".tmp", indexPath); err != nil {
		return err
	}
	if err := os.Rename(blockPath+".tmp", blockPath); err != nil {
		return err
	}

	err = os.Remove(bs.disk.stagePath(bs.name, bs.index))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// Delete removes the staging file without touching committed rows.
func (bs *blockStore) Delete() error {
	return bs.Reset()
}

// Close in this implementation has nothing to do.
func (bs *blockStore) Close() error {
	return nil
}
