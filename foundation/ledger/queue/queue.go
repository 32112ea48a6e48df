// Package queue implements the ordered asynchronous commit pipeline. Blocks
// are sealed and persisted by exactly one worker goroutine, one block at a
// time, in the order they were submitted. That single-worker discipline is
// what keeps the previous-hash linkage sound: no block is sealed against a
// predecessor whose own hash is still in flux.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nomledger/nomledger/foundation/events"
	"github.com/nomledger/nomledger/foundation/ledger/block"
	"github.com/nomledger/nomledger/foundation/ledger/hashing"
	"github.com/nomledger/nomledger/foundation/ledger/storage"
)

// Work represents one block waiting to be sealed and committed.
type Work struct {
	Block       *block.Block
	EntropySeed uint64
	PowPrefix   string
}

// Config represents the configuration required to start the queue.
type Config struct {
	Chain       string
	Store       storage.Store
	Bus         *events.Bus
	EvHandler   block.EventHandler
	MaxAttempts uint64        // per-block pow bound, 0 applies the block default
	SealTimeout time.Duration // per-block seal deadline, 0 means none

	// OnResult is invoked by the worker after each block definitively
	// commits or fails, before the corresponding event is published.
	OnResult func(index uint64, hash string, err error)
}

// Queue manages the commit pipeline for one chain.
type Queue struct {
	cfg    Config
	ev     block.EventHandler
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	work    []Work
	gotWork chan struct{}
	shut    chan struct{}
}

// New constructs the queue and starts its single worker goroutine.
func New(cfg Config) *Queue {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := Queue{
		cfg:     cfg,
		ev:      ev,
		ctx:     ctx,
		cancel:  cancel,
		gotWork: make(chan struct{}, 1),
		shut:    make(chan struct{}),
	}

	// We don't want to return until we know the worker is up and running.
	hasStarted := make(chan bool)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		hasStarted <- true
		q.run()
	}()

	<-hasStarted

	return &q
}

// Shutdown terminates the worker goroutine. The block being sealed is
// cancelled and any pending work is abandoned.
func (q *Queue) Shutdown() {
	q.ev("queue: shutdown: started")
	defer q.ev("queue: shutdown: completed")

	close(q.shut)
	q.cancel()
	q.wg.Wait()
}

// Submit enqueues the block for sealing and persistence. It never blocks the
// caller; the work is picked up by the worker in submission order. QueueEmpty
// fires once per drained wake cycle, so submissions that straddle a drain
// produce more than one signal: callers treat the drain signal that follows
// their last submission as the sync point.
func (q *Queue) Submit(b *block.Block, entropySeed uint64, powPrefix string) {
	q.mu.Lock()
	q.work = append(q.work, Work{Block: b, EntropySeed: entropySeed, PowPrefix: powPrefix})
	q.mu.Unlock()

	select {
	case q.gotWork <- struct{}{}:
	default:
	}
}

// Pending returns the number of blocks waiting for the worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.work)
}

// =============================================================================

// run is the worker loop. Concurrency is one by construction. Each wake
// cycle that processed at least one block ends with a QueueEmpty signal.
func (q *Queue) run() {
	q.ev("queue: worker: G started")
	defer q.ev("queue: worker: G completed")

	for {
		select {
		case <-q.gotWork:
			var processed int
			for {
				if q.isShutdown() {
					return
				}

				w, ok := q.pop()
				if !ok {
					break
				}

				q.process(w)
				processed++
			}

			// Drained: every submitted block is durably committed or
			// definitively failed.
			if processed > 0 {
				q.ev("queue: worker: drained after %d block(s)", processed)
				q.cfg.Bus.Publish(events.Event{Chain: q.cfg.Chain, Kind: events.QueueEmpty})
			}

		case <-q.shut:
			q.ev("queue: worker: received shut signal")
			return
		}
	}
}

// pop removes the head of the work list.
func (q *Queue) pop() (Work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.work) == 0 {
		return Work{}, false
	}

	w := q.work[0]
	q.work = q.work[1:]

	return w, true
}

// isShutdown is used to test if a shutdown has been signaled.
func (q *Queue) isShutdown() bool {
	select {
	case <-q.shut:
		return true
	default:
		return false
	}
}

// process seals and commits a single block. Failures are converted to events
// and never halt the pipeline; a failed block leaves a permanent gap in the
// committed chain that readers detect with a contiguity check.
func (q *Queue) process(w Work) {
	b := w.Block
	index := b.Index()

	q.ev("queue: process: blk[%d]: started", index)
	defer q.ev("queue: process: blk[%d]: completed", index)

	// The previous hash is always re-derived from storage. The predecessor
	// may have been sealed only moments ago and an in-memory copy is not
	// trusted.
	previousHash, err := q.previousHash(index)
	if err != nil {
		q.finish(index, "", err)
		return
	}

	ctx := q.ctx
	if q.cfg.SealTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(q.ctx, q.cfg.SealTimeout)
		defer cancel()
	}

	hash, err := b.Seal(ctx, previousHash, w.EntropySeed, w.PowPrefix, q.cfg.MaxAttempts)
	if err != nil {
		q.finish(index, "", err)
		return
	}

	if err := b.Commit(); err != nil {
		q.finish(index, "", err)
		return
	}

	q.finish(index, hash, nil)
}

// previousHash loads the predecessor block from storage and recomputes its
// hash. Block zero has no predecessor and links to the zero sentinel.
func (q *Queue) previousHash(index uint64) (string, error) {
	if index == 0 {
		return hashing.ZeroHash, nil
	}

	prev, err := block.Load(q.cfg.Store, q.cfg.Chain, index-1, q.ev)
	if err != nil {
		return "", err
	}

	return prev.ComputeHash(true)
}

// finish reports the block's outcome to the chain and publishes the
// corresponding event.
func (q *Queue) finish(index uint64, hash string, err error) {
	if q.cfg.OnResult != nil {
		q.cfg.OnResult(index, hash, err)
	}

	evt := events.Event{Chain: q.cfg.Chain, Index: index, Hash: hash, Err: err}

	switch {
	case err == nil:
		evt.Kind = events.BlockCommit
		q.ev("queue: process: blk[%d]: committed: hash[%s]", index, hash)

	case errors.Is(err, block.ErrEntropyExhausted), errors.Is(err, context.DeadlineExceeded):
		evt.Kind = events.BlockCommitTimeout
		q.ev("queue: process: blk[%d]: TIMEOUT: %s", index, err)

	default:
		evt.Kind = events.BlockCommitError
		q.ev("queue: process: blk[%d]: ERROR: %s", index, err)
	}

	q.cfg.Bus.Publish(evt)
}
