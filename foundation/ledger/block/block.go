// Package block implements the ordered, append-only container of
// transactions. A block moves through a small lifecycle: open while it
// accepts transactions, sealed once the proof-of-work search fixed its hash,
// committed once it is durably persisted. A block never regresses.
package block

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nomledger/nomledger/foundation/ledger/hashing"
	"github.com/nomledger/nomledger/foundation/ledger/storage"
	"github.com/nomledger/nomledger/foundation/ledger/transaction"
)

// DefaultMaxAttempts bounds the proof-of-work search when the caller doesn't
// provide a limit. The search reports exhaustion instead of spinning forever.
const DefaultMaxAttempts = 1 << 26

// ErrEntropyExhausted is returned from Seal when the entropy search hit its
// attempt bound without finding a hash matching the pow prefix.
var ErrEntropyExhausted = errors.New("entropy exhausted before matching the pow prefix")

// EventHandler defines a function that is called when events occur during
// block processing.
type EventHandler func(v string, args ...any)

// =============================================================================

// State represents the lifecycle state of a block.
type State int

// The set of states a block moves through, in order.
const (
	StateOpen State = iota + 1
	StateSealed
	StateCommitted
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSealed:
		return "sealed"
	case StateCommitted:
		return "committed"
	}
	return "unknown"
}

// =============================================================================

// Block represents a batch of transactions committed to the chain as one
// unit. Values are not safe for concurrent use; the commit queue guarantees
// a single goroutine seals and commits any one block.
type Block struct {
	store  storage.Store
	handle storage.BlockStore
	ev     EventHandler

	chain        string
	index        uint64
	previousHash string
	entropy      uint64
	timeStamp    uint64
	hash         string
	txHashes     []string
	length       int
	state        State
}

// Open constructs an empty writable block bound to fresh per-block storage
// at the specified index. Any pre-existing artifacts for that index are
// destroyed first; this is a fresh open, not a resume.
func Open(store storage.Store, chain string, index uint64, ev EventHandler) (*Block, error) {
	handle, err := store.OpenBlock(chain, index)
	if err != nil {
		return nil, fmt.Errorf("open block %d: %w", index, err)
	}

	if err := handle.Reset(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("reset block %d: %w", index, err)
	}

	b := Block{
		store:     store,
		handle:    handle,
		ev:        nopHandler(ev),
		chain:     chain,
		index:     index,
		timeStamp: uint64(time.Now().UTC().UnixMilli()),
		state:     StateOpen,
	}

	return &b, nil
}

// Load reconstructs a committed block from storage without requiring it to
// be the chain's working block.
func Load(store storage.Store, chain string, index uint64, ev EventHandler) (*Block, error) {
	row, hashes, err := store.LoadBlock(chain, index)
	if err != nil {
		return nil, err
	}

	b := Block{
		store:        store,
		ev:           nopHandler(ev),
		chain:        chain,
		index:        row.Index,
		previousHash: row.PreviousHash,
		entropy:      row.Entropy,
		timeStamp:    row.TimeStamp,
		hash:         row.Hash,
		txHashes:     hashes,
		length:       row.Length,
		state:        StateCommitted,
	}

	return &b, nil
}

// =============================================================================

// Index returns the block's sequence number.
func (b *Block) Index() uint64 { return b.index }

// Length returns the number of transactions the block contains.
func (b *Block) Length() int { return b.length }

// Hash returns the block's last computed hash. It is only final once the
// block is sealed.
func (b *Block) Hash() string { return b.hash }

// PreviousHash returns the hash linking this block to its predecessor.
func (b *Block) PreviousHash() string { return b.previousHash }

// Entropy returns the nonce fixed by the proof-of-work search.
func (b *Block) Entropy() uint64 { return b.entropy }

// TimeStamp returns the block's creation instant in milliseconds.
func (b *Block) TimeStamp() uint64 { return b.timeStamp }

// State returns the block's lifecycle state.
func (b *Block) State() State { return b.state }

// TransactionHashes returns a copy of the ordered transaction hash list.
func (b *Block) TransactionHashes() []string {
	hashes := make([]string, len(b.txHashes))
	copy(hashes, b.txHashes)
	return hashes
}

// Row returns the metadata row as it would be persisted at commit time.
func (b *Block) Row() storage.BlockRow {
	return storage.BlockRow{
		Index:        b.index,
		Hash:         b.hash,
		PreviousHash: b.previousHash,
		Length:       b.length,
		Entropy:      b.entropy,
		TimeStamp:    b.timeStamp,
	}
}

// =============================================================================

// AddTransaction appends the transaction to the block, persisting the raw
// record at its position. Insertion order is part of the block's identity.
func (b *Block) AddTransaction(tx transaction.Tx) error {
	if b.state != StateOpen {
		return fmt.Errorf("block %d is %s, not accepting transactions", b.index, b.state)
	}

	rec := storage.TxRecord{
		Hash:   tx.IdentityHash(),
		FromID: string(tx.FromID),
		ToID:   string(tx.ToID),
		Amount: tx.Amount,
	}

	if err := b.handle.AddTransaction(rec, b.length); err != nil {
		return fmt.Errorf("add transaction to block %d: %w", b.index, err)
	}

	b.txHashes = append(b.txHashes, rec.Hash)
	b.length++

	return nil
}

// Seal fixes the block's link to its predecessor and searches for an entropy
// value whose hash carries the pow prefix. With an empty prefix the hash is
// computed once with the seed unmodified. This is the single place in the
// system where hashing runs in a loop. A maxAttempts of zero applies
// DefaultMaxAttempts; the search reports ErrEntropyExhausted past the bound
// and the block stays open.
func (b *Block) Seal(ctx context.Context, previousHash string, entropySeed uint64, powPrefix string, maxAttempts uint64) (string, error) {
	if b.state != StateOpen {
		return "", fmt.Errorf("block %d is %s, already sealed", b.index, b.state)
	}

	b.previousHash = previousHash
	b.entropy = entropySeed

	hash, err := b.search(ctx, powPrefix, maxAttempts)
	if err != nil {
		return "", err
	}

	b.hash = hash
	b.state = StateSealed

	return hash, nil
}

// search performs the proof-of-work mining operation. Pointer semantics are
// being used since an entropy value is being discovered.
func (b *Block) search(ctx context.Context, powPrefix string, maxAttempts uint64) (string, error) {
	if powPrefix == "" {
		return b.ComputeHash(false)
	}

	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	b.ev("block: seal: POW: blk[%d]: started: prefix[%s]", b.index, powPrefix)
	defer b.ev("block: seal: POW: blk[%d]: completed", b.index)

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			b.ev("block: seal: POW: blk[%d]: attempts[%d]", b.index, attempts)
		}

		if attempts > maxAttempts {
			return "", fmt.Errorf("block %d after %d attempts: %w", b.index, attempts-1, ErrEntropyExhausted)
		}

		if err := ctx.Err(); err != nil {
			b.ev("block: seal: POW: blk[%d]: CANCELLED", b.index)
			return "", err
		}

		hash, err := b.ComputeHash(false)
		if err != nil {
			return "", err
		}

		if !strings.HasPrefix(hash, powPrefix) {
			b.entropy++
			continue
		}

		b.ev("block: seal: POW: blk[%d]: SOLVED: entropy[%d] attempts[%d]", b.index, b.entropy, attempts)
		return hash, nil
	}
}

// ComputeHash builds the block's digest over the metadata fields followed by
// the ordered transaction hash list. The current hash field is explicitly
// excluded from the input. When force is set, or the in-memory hash list
// disagrees with the recorded length, the list is reloaded from storage
// first so a resumed block never hashes stale state.
func (b *Block) ComputeHash(force bool) (string, error) {
	if force || len(b.txHashes) != b.length {
		if err := b.reloadTransactionHashes(); err != nil {
			return "", err
		}
	}

	return hashing.Composite(b.index, b.previousHash, b.length, b.entropy, b.timeStamp, b.txHashes), nil
}

// reloadTransactionHashes refreshes the hash list from the per-block handle
// while the block is open or sealed, and from the committed rows afterwards.
func (b *Block) reloadTransactionHashes() error {
	var hashes []string
	var err error

	switch {
	case b.handle != nil:
		hashes, err = b.handle.TransactionHashes()
	default:
		_, hashes, err = b.store.LoadBlock(b.chain, b.index)
	}
	if err != nil {
		return fmt.Errorf("reload transaction hashes for block %d: %w", b.index, err)
	}

	b.txHashes = hashes
	b.length = len(hashes)

	return nil
}

// Commit persists the block's metadata row and the per-transaction index
// rows, then releases the dedicated storage handle. Commit is not
// idempotent; the commit queue guarantees a single invocation. A failed
// commit leaves the block sealed.
func (b *Block) Commit() error {
	if b.state != StateSealed {
		return fmt.Errorf("block %d is %s, only sealed blocks commit", b.index, b.state)
	}

	if err := b.handle.Commit(b.Row()); err != nil {
		return fmt.Errorf("commit block %d: %w", b.index, err)
	}

	b.handle.Close()
	b.handle = nil
	b.state = StateCommitted

	return nil
}

// Discard destroys the block's per-block storage artifacts and releases the
// handle. Only open blocks may be discarded; it is used when a rotation is
// abandoned and the index will be fresh-opened again.
func (b *Block) Discard() error {
	if b.state != StateOpen {
		return fmt.Errorf("block %d is %s, only open blocks discard", b.index, b.state)
	}

	if err := b.handle.Delete(); err != nil {
		return fmt.Errorf("discard block %d: %w", b.index, err)
	}

	b.handle.Close()
	b.handle = nil

	return nil
}

// =============================================================================

// nopHandler guarantees a usable event handler.
func nopHandler(ev EventHandler) EventHandler {
	if ev != nil {
		return ev
	}
	return func(v string, args ...any) {}
}
