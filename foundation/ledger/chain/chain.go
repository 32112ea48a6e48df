// Package chain is the core API for the ledger. It owns the pending
// transaction pool, the single working block, duplicate submission
// detection, and the rotation of full blocks into the commit queue.
package chain

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/nomledger/nomledger/foundation/events"
	"github.com/nomledger/nomledger/foundation/ledger/block"
	"github.com/nomledger/nomledger/foundation/ledger/hashing"
	"github.com/nomledger/nomledger/foundation/ledger/queue"
	"github.com/nomledger/nomledger/foundation/ledger/storage"
	"github.com/nomledger/nomledger/foundation/ledger/transaction"
)

// ErrNotInitialized is returned when operations run before Initialize.
var ErrNotInitialized = errors.New("chain is not initialized")

// Config represents the configuration required to construct a chain.
type Config struct {
	Name  string
	Store storage.Store
	Bus   *events.Bus

	// EvHandler receives trace output from every component of the chain.
	EvHandler block.EventHandler

	// PowHashPrefix gates sealing on a proof-of-work search. Empty disables
	// the search and blocks seal with their entropy seed unmodified.
	PowHashPrefix string

	// MaxRandomEntropy bounds the random entropy seed handed to each block.
	// Zero seeds every block with zero.
	MaxRandomEntropy uint64

	// MaxBlockTransactions is the pool threshold that triggers a rotation.
	MaxBlockTransactions int

	// TransactionPrefix, when set, tags every transaction's identity hash as
	// it is drained into a block.
	TransactionPrefix string

	// MaxSealAttempts bounds each block's pow search. Zero applies the
	// block package default.
	MaxSealAttempts uint64

	// SealTimeout is the per-block sealing deadline. Zero means none.
	SealTimeout time.Duration
}

// Chain manages the ledger for one named chain. Public methods are safe for
// concurrent use; event handlers run on ledger goroutines and must not call
// back into the chain.
type Chain struct {
	name  string
	cfg   Config
	store storage.Store
	bus   *events.Bus
	ev    block.EventHandler
	queue *queue.Queue

	mu        sync.Mutex
	working   *block.Block
	committed uint64
	pool      []transaction.Tx
	inflight  map[string]struct{}
	byBlock   map[uint64][]string
	done      map[uint64]error
	waiters   map[uint64][]chan error
}

// New constructs a chain for data management. Call Initialize before
// submitting transactions.
func New(cfg Config) (*Chain, error) {
	if cfg.Name == "" {
		return nil, errors.New("chain name is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("storage engine is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	if cfg.MaxBlockTransactions < 1 {
		return nil, errors.New("max block transactions must be at least 1")
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	c := Chain{
		name:     cfg.Name,
		cfg:      cfg,
		store:    cfg.Store,
		bus:      cfg.Bus,
		ev:       ev,
		inflight: make(map[string]struct{}),
		byBlock:  make(map[uint64][]string),
		done:     make(map[uint64]error),
		waiters:  make(map[uint64][]chan error),
	}

	c.queue = queue.New(queue.Config{
		Chain:       cfg.Name,
		Store:       cfg.Store,
		Bus:         cfg.Bus,
		EvHandler:   ev,
		MaxAttempts: cfg.MaxSealAttempts,
		SealTimeout: cfg.SealTimeout,
		OnResult:    c.blockDone,
	})

	return &c, nil
}

// Initialize prepares the chain for use. With resume true the chain
// continues after the highest committed block; with resume false every
// existing artifact under the chain's name is destroyed and a fresh genesis
// working block is opened.
func (c *Chain) Initialize(resume bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.InitializeChain(c.name, !resume); err != nil {
		return fmt.Errorf("initialize chain %q: %w", c.name, err)
	}

	var next uint64
	var committed uint64

	if resume {
		last, found, err := c.store.LastBlock(c.name)
		if err != nil {
			return fmt.Errorf("load last block for chain %q: %w", c.name, err)
		}
		if found {
			next = last.Index + 1
			committed = last.Index + 1
		}
	}

	working, err := block.Open(c.store, c.name, next, c.ev)
	if err != nil {
		return err
	}

	c.working = working
	c.committed = committed
	c.pool = nil
	c.inflight = make(map[string]struct{})
	c.byBlock = make(map[uint64][]string)
	c.done = make(map[uint64]error)

	c.ev("chain: initialize: name[%s] resume[%t] working[%d] committed[%d]", c.name, resume, next, committed)

	return nil
}

// Shutdown stops the commit queue. The block being sealed is cancelled and
// pending work is abandoned.
func (c *Chain) Shutdown() {
	c.queue.Shutdown()
}

// =============================================================================

// Add submits a transaction to the pending pool. It reports false when the
// transaction's fingerprint is already in flight; duplicates are not an
// error. When the pool reaches the configured threshold the pool is drained
// into the working block and the block rotates into the commit queue. The
// drain is all-or-nothing: on failure the pool is left untouched, the
// working block is fresh-opened at the same index, and the rotation is
// retried wholesale on the next call.
func (c *Chain) Add(tx transaction.Tx) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.working == nil {
		return false, ErrNotInitialized
	}

	fingerprint := tx.FingerprintHash()
	if _, exists := c.inflight[fingerprint]; exists {
		c.ev("chain: add: duplicate fingerprint[%s]", fingerprint)
		return false, nil
	}

	c.pool = append(c.pool, tx)
	c.inflight[fingerprint] = struct{}{}

	if len(c.pool) < c.cfg.MaxBlockTransactions {
		return true, nil
	}

	if err := c.rotate(); err != nil {
		return true, err
	}

	return true, nil
}

// rotate drains the pool into the working block, hands the block to the
// commit queue, and opens the next working block. Callers hold the mutex.
func (c *Chain) rotate() error {
	full := c.working
	index := full.Index()

	for _, tx := range c.pool {
		if err := c.working.AddTransaction(tx.WithPrefix(c.cfg.TransactionPrefix)); err != nil {
			return c.abandonRotation(index, err)
		}
	}

	// The next working block is opened before the full one is submitted so
	// a storage failure here leaves nothing half-rotated.
	next, err := block.Open(c.store, c.name, index+1, c.ev)
	if err != nil {
		return c.abandonRotation(index, err)
	}

	fingerprints := make([]string, len(c.pool))
	for i, tx := range c.pool {
		fingerprints[i] = tx.FingerprintHash()
	}
	c.byBlock[index] = fingerprints

	c.pool = nil
	c.working = next

	c.ev("chain: rotate: blk[%d] submitted with %d transaction(s)", index, full.Length())
	c.bus.Publish(events.Event{Chain: c.name, Kind: events.BlockSubmit, Index: index})
	c.queue.Submit(full, c.entropySeed(), c.cfg.PowHashPrefix)

	return nil
}

// abandonRotation destroys the partially drained block and fresh-opens the
// same index. The pool and in-flight set are left untouched.
func (c *Chain) abandonRotation(index uint64, cause error) error {
	if err := c.working.Discard(); err != nil {
		c.ev("chain: rotate: blk[%d]: discard failed: %s", index, err)
	}

	reopened, err := block.Open(c.store, c.name, index, c.ev)
	if err != nil {
		c.working = nil
		return fmt.Errorf("rotation aborted and block %d could not be reopened: %w", index, errors.Join(cause, err))
	}
	c.working = reopened

	return fmt.Errorf("rotation of block %d aborted: %w", index, cause)
}

// blockDone is invoked by the queue worker after each block commits or
// definitively fails. Fingerprints go back out of flight either way.
func (c *Chain) blockDone(index uint64, hash string, err error) {
	c.mu.Lock()

	for _, fingerprint := range c.byBlock[index] {
		delete(c.inflight, fingerprint)
	}
	delete(c.byBlock, index)

	if err == nil {
		c.committed++
	}

	c.done[index] = err
	waiters := c.waiters[index]
	delete(c.waiters, index)

	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
		close(ch)
	}
}

// =============================================================================

// Name returns the chain's namespace identifier.
func (c *Chain) Name() string {
	return c.name
}

// Length returns the number of committed blocks. The open working block is
// never counted.
func (c *Chain) Length() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.committed
}

// WorkingIndex returns the index of the current working block.
func (c *Chain) WorkingIndex() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.working == nil {
		return 0, ErrNotInitialized
	}

	return c.working.Index(), nil
}

// PendingTransactions returns the number of transactions in the pool.
func (c *Chain) PendingTransactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pool)
}

// QueuedBlocks returns the number of blocks waiting in the commit queue.
func (c *Chain) QueuedBlocks() int {
	return c.queue.Pending()
}

// WaitFor returns a channel that resolves with the block's commit outcome:
// nil on commit, the sealing or persistence error otherwise. Blocks that
// already completed resolve immediately.
func (c *Chain) WaitFor(index uint64) <-chan error {
	ch := make(chan error, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err, resolved := c.done[index]; resolved {
		ch <- err
		close(ch)
		return ch
	}

	c.waiters[index] = append(c.waiters[index], ch)
	return ch
}

// FindTransactionByHash looks the hash up in the chain's transaction index.
// Returns storage.ErrNotFound when the hash is unknown.
func (c *Chain) FindTransactionByHash(hash string) (storage.TxIndexRecord, error) {
	return c.store.FindTransactionByHash(c.name, hash)
}

// LoadBlock reconstructs a committed block.
func (c *Chain) LoadBlock(index uint64) (*block.Block, error) {
	return block.Load(c.store, c.name, index, c.ev)
}

// Delete instructs storage to destroy every artifact under the chain's
// name. The caller ensures no commit queue work is outstanding first.
func (c *Chain) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.working != nil {
		if err := c.working.Discard(); err != nil {
			c.ev("chain: delete: discard working block: %s", err)
		}
		c.working = nil
	}

	return c.store.DeleteChain(c.name)
}

// =============================================================================

// Verify walks the committed blocks in order and checks the integrity of
// the chain: contiguous indexes, previous-hash linkage, and stored hashes
// matching a forced recompute.
func (c *Chain) Verify(ctx context.Context) error {
	length := c.Length()

	previousHash := hashing.ZeroHash
	for index := uint64(0); index < length; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		b, err := block.Load(c.store, c.name, index, c.ev)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("chain has a gap at block %d", index)
			}
			return err
		}

		if b.PreviousHash() != previousHash {
			return fmt.Errorf("block %d previous hash mismatch, got %s, exp %s", index, b.PreviousHash(), previousHash)
		}

		hash, err := b.ComputeHash(true)
		if err != nil {
			return err
		}
		if hash != b.Hash() {
			return fmt.Errorf("block %d stored hash %s does not match recomputed %s", index, b.Hash(), hash)
		}

		previousHash = hash
	}

	return nil
}

// =============================================================================

// entropySeed picks a random starting point for a block's entropy search,
// bounded by the configured maximum.
func (c *Chain) entropySeed() uint64 {
	if c.cfg.MaxRandomEntropy == 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(c.cfg.MaxRandomEntropy))
	if err != nil {
		return 0
	}

	return n.Uint64()
}
