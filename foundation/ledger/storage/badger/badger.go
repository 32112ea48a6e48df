// Package badger implements the storage contract on BadgerDB. Every chain
// lives under its own key prefix, so a chain reset is a single prefix drop.
package badger

import (
	"encoding/json"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/nomledger/nomledger/foundation/ledger/storage"
)

// Store represents the BadgerDB storage engine. This implements the
// storage.Store interface.
type Store struct {
	db *badgerdb.DB
}

// New opens the database at the specified directory.
func New(dir string) (*Store, error) {
	opts := badgerdb.DefaultOptions(dir)
	opts.Logger = nil
	opts.NumCompactors = 2
	opts.NumMemtables = 2
	opts.BlockCacheSize = 64 << 20
	opts.IndexCacheSize = 64 << 20

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitializeChain prepares the keyspace for the named chain. With reset true
// the chain's whole prefix is dropped first.
func (s *Store) InitializeChain(name string, reset bool) error {
	if !reset {
		return nil
	}
	return s.db.DropPrefix(chainPrefix(name))
}

// LastBlock returns the highest committed block's metadata row using a
// reverse iteration over the zero padded block keys.
func (s *Store) LastBlock(name string) (storage.BlockRow, bool, error) {
	var row storage.BlockRow
	var found bool

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = blockPrefix(name)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the last possible block key; the first valid item in
		// reverse order is the highest committed index.
		it.Seek(append(blockPrefix(name), 0xff))
		if !it.ValidForPrefix(blockPrefix(name)) {
			return nil
		}

		var bf blockValue
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &bf)
		}); err != nil {
			return err
		}

		row = bf.Row
		found = true
		return nil
	})

	return row, found, err
}

// FindTransactionByHash looks the hash up in the chain's transaction index.
func (s *Store) FindTransactionByHash(name string, hash string) (storage.TxIndexRecord, error) {
	var rec storage.TxIndexRecord

	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(txIndexKey(name, hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return storage.TxIndexRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.TxIndexRecord{}, err
	}

	return rec, nil
}

// LoadBlock reconstructs a committed block's row and ordered hash list.
func (s *Store) LoadBlock(name string, index uint64) (storage.BlockRow, []string, error) {
	var bf blockValue

	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(blockKey(name, index))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &bf)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return storage.BlockRow{}, nil, storage.ErrNotFound
	}
	if err != nil {
		return storage.BlockRow{}, nil, err
	}

	hashes := make([]string, len(bf.Records))
	for i, rec := range bf.Records {
		hashes[i] = rec.Hash
	}

	return bf.Row, hashes, nil
}

// OpenBlock opens the dedicated handle for the block at the specified index.
func (s *Store) OpenBlock(name string, index uint64) (storage.BlockStore, error) {
	return &blockStore{store: s, name: name, index: index}, nil
}

// DeleteChain drops the chain's whole key prefix.
func (s *Store) DeleteChain(name string) error {
	return s.db.DropPrefix(chainPrefix(name))
}

// =============================================================================

// blockValue is what a committed block key holds.
type blockValue struct {
	Row     storage.BlockRow   `json:"row"`
	Records []storage.TxRecord `json:"transactions"`
}

func chainPrefix(name string) []byte {
	return []byte(fmt.Sprintf("c/%s/", name))
}

func blockPrefix(name string) []byte {
	return []byte(fmt.Sprintf("c/%s/b/", name))
}

func blockKey(name string, index uint64) []byte {
	return []byte(fmt.Sprintf("c/%s/b/%020d", name, index))
}

func stagePrefix(name string, index uint64) []byte {
	return []byte(fmt.Sprintf("c/%s/s/%020d/", name, index))
}

func stageKey(name string, index uint64, position int) []byte {
	return []byte(fmt.Sprintf("c/%s/s/%020d/%09d", name, index, position))
}

func txIndexKey(name string, hash string) []byte {
	return []byte(fmt.Sprintf("c/%s/x/%s", name, hash))
}

func hashMarkerKey(name string, hash string) []byte {
	return []byte(fmt.Sprintf("c/%s/h/%s", name, hash))
}

func prevMarkerKey(name string, hash string) []byte {
	return []byte(fmt.Sprintf("c/%s/p/%s", name, hash))
}

// =============================================================================

// blockStore is the per-block handle. This implements the storage.BlockStore
// interface.
type blockStore struct {
	store *Store
	name  string
	index uint64
}

// Reset drops any staged keys for this block's index.
func (bs *blockStore) Reset() error {
	return bs.store.db.DropPrefix(stagePrefix(bs.name, bs.index))
}

// AddTransaction persists the record under its zero padded position key.
func (bs *blockStore) AddTransaction(rec storage.TxRecord, position int) error {
	return bs.store.db.Update(func(txn *badgerdb.Txn) error {
		if position > 0 {
			if _, err := txn.Get(stageKey(bs.name, bs.index, position-1)); err != nil {
				return fmt.Errorf("transaction out of order at position %d: %w", position, err)
			}
		}
		if _, err := txn.Get(stageKey(bs.name, bs.index, position)); err == nil {
			return fmt.Errorf("position %d already written", position)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return txn.Set(stageKey(bs.name, bs.index, position), data)
	})
}

// TransactionHashes returns the ordered hash list from the staged keys.
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

// TransactionRecords returns the full ordered records from the staged keys.
func (bs *blockStore) TransactionRecords() ([]storage.TxRecord, error) {
	var records []storage.TxRecord

	err := bs.store.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = stagePrefix(bs.name, bs.index)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			var rec storage.TxRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Commit atomically writes the block value, the uniqueness markers, and one
// index row per transaction, then removes the staged keys.
func (bs *blockStore) Commit(row storage.BlockRow) error {
	records, err := bs.TransactionRecords()
	if err != nil {
		return err
	}

	return bs.store.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(blockKey(bs.name, bs.index)); err == nil {
			return fmt.Errorf("block %d already committed", bs.index)
		}
		if _, err := txn.Get(hashMarkerKey(bs.name, row.Hash)); err == nil {
			return fmt.Errorf("block hash %s already used", row.Hash)
		}
		if row.Index > 0 {
			if _, err := txn.Get(prevMarkerKey(bs.name, row.PreviousHash)); err == nil {
				return fmt.Errorf("previous hash %s already linked", row.PreviousHash)
			}
		}
		for _, rec := range records {
			if _, err := txn.Get(txIndexKey(bs.name, rec.Hash)); err == nil {
				return fmt.Errorf("transaction %s already indexed", rec.Hash)
			}
		}

		data, err := json.Marshal(blockValue{Row: row, Records: records})
		if err != nil {
			return err
		}
		if err := txn.Set(blockKey(bs.name, bs.index), data); err != nil {
			return err
		}

		indexBytes := []byte(fmt.Sprintf("%d", row.Index))
		if err := txn.Set(hashMarkerKey(bs.name, row.Hash), indexBytes); err != nil {
			return err
		}
		if err := txn.Set(prevMarkerKey(bs.name, row.PreviousHash), indexBytes); err != nil {
			return err
		}

		for position, rec := range records {
			data, err := json.Marshal(storage.TxIndexRecord{Hash: rec.Hash, BlockIndex: row.Index})
			if err != nil {
				return err
			}
			if err := txn.Set(txIndexKey(bs.name, rec.Hash), data); err != nil {
				return err
			}
			if err := txn.Delete(stageKey(bs.name, bs.index, position)); err != nil {
				return err
			}
		}

		return nil
	})
}

// Delete drops the staged keys without touching committed rows.
func (bs *blockStore) Delete() error {
	return bs.Reset()
}

// Close in this implementation has nothing to do; the engine owns the
// database handle.
func (bs *blockStore) Close() error {
	return nil
}
