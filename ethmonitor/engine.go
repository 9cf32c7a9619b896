package ethmonitor

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/goware/logger"
)

// engine is the C4 tree engine: it drains the ingestion queue, maintains
// childDepth, and fires add/confirm/rollback/live. It owns the only
// mutations ever made to the tree.
type engine struct {
	log  logger.Logger
	opts *Options
	sink *eventSink

	backfill *backfiller

	mu             sync.Mutex
	tr             *tree
	q              *ingestQueue
	maxBlockNumber uint64
	confirmedOnce  map[Hash]bool
	futures        map[Hash][]chan struct{}
	hadPending     bool

	// The engine is driven by exactly one worker goroutine, started
	// lazily on first use -- the Go mapping of the spec's single-
	// threaded cooperative scheduling model (§5). Staging a block never
	// blocks the caller or drains inline; it wakes the worker, which
	// coalesces whatever has been staged since its last pass into one
	// drain cycle. wakeCh is buffered to size 1 so a wake that arrives
	// while the worker is already draining is never lost nor queued
	// twice.
	workerOnce sync.Once
	workerCtx  context.Context
	wakeCh     chan struct{}
}

func newEngine(opts *Options, sink *eventSink) *engine {
	return &engine{
		log:           opts.Logger,
		opts:          opts,
		sink:          sink,
		tr:            newTree(),
		q:             newIngestQueue(),
		confirmedOnce: make(map[Hash]bool),
		futures:       make(map[Hash][]chan struct{}),
	}
}

// ensureWorker starts the drain worker on first use, pinning ctx as the
// context subsequent gap-resolution/backfill fetches run under for the
// remainder of the engine's life.
func (e *engine) ensureWorker(ctx context.Context) {
	e.workerOnce.Do(func() {
		e.workerCtx = ctx
		e.wakeCh = make(chan struct{}, 1)
		go e.workerLoop()
	})
}

func (e *engine) workerLoop() {
	for range e.wakeCh {
		e.drainCycle(e.workerCtx)
	}
}

func (e *engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// addBlock stages b and wakes the drain worker, returning a channel that
// closes once b has been inserted into the tree (or immediately, if it's
// already present). Idempotent per hash. Calls issued back-to-back without
// being individually awaited coalesce into a single drain cycle, since
// staging never blocks on the worker.
func (e *engine) addBlock(ctx context.Context, b *Block) <-chan struct{} {
	e.mu.Lock()
	if e.tr.get(b.Hash) != nil {
		e.mu.Unlock()
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	ch := make(chan struct{})
	e.futures[b.Hash] = append(e.futures[b.Hash], ch)
	e.q.offer(b, e.tr)
	e.mu.Unlock()

	e.ensureWorker(ctx)
	e.wake()
	return ch
}

// stage offers blocks into the queue without registering futures or waking
// the worker. Production code never calls it directly -- the drain loop's
// own parent-chase path offers straight onto e.q since it already holds
// e.mu, and anchor resolution uses seedAnchor -- but the scenario tests
// use it to hand-assemble a queue (then drive ensureWorker/wake
// themselves) for deterministic multi-block drain-cycle assertions.
func (e *engine) stage(blocks ...*Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range blocks {
		e.q.offer(b, e.tr)
	}
}

// stageAwait stages blocks, wakes the worker, and blocks the caller until
// every one of them has been resolved (inserted or discovered already
// present). Used by batch backfill, which must know the tree's
// maxBlockNumber is caught up before deciding whether to fetch another
// range.
func (e *engine) stageAwait(ctx context.Context, blocks ...*Block) {
	chans := make([]<-chan struct{}, len(blocks))

	e.mu.Lock()
	for i, b := range blocks {
		if e.tr.get(b.Hash) != nil {
			ch := make(chan struct{})
			close(ch)
			chans[i] = ch
			continue
		}
		ch := make(chan struct{})
		e.futures[b.Hash] = append(e.futures[b.Hash], ch)
		e.q.offer(b, e.tr)
		chans[i] = ch
	}
	e.mu.Unlock()

	e.ensureWorker(ctx)
	e.wake()

	for _, ch := range chans {
		<-ch
	}
}

// seedAnchor inserts b directly as the tree's root, bypassing the
// ingestion queue entirely (spec.md §4.5: anchor resolution "insert[s] via
// C4, bypassing the parent-gap check -- this is the root"). Unlike stage/
// stageAwait it never touches the queue or hadPending, so it can't trigger
// a spurious live transition: to the drain cycle's bookkeeping, the anchor
// was never "pending" in the first place. It runs synchronously on the
// caller's goroutine, so by the time it returns maxBlockNumber already
// reflects the anchor -- Monitor.fetchFirstBlock relies on this to keep
// the poll loop's first maybeBatchBackfill call from seeing a zeroed tree.
func (e *engine) seedAnchor(b *Block) {
	e.insert(b, nil)
}

func (e *engine) currentMaxBlockNumber() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxBlockNumber
}

func (e *engine) treeSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tr.size()
}

// drainCycle is the insertion algorithm of spec.md §4.3: drain the queue in
// ascending-number order, resolving ancestry gaps via the backfill
// coordinator, until the queue is empty.
func (e *engine) drainCycle(ctx context.Context) {
	for {
		e.mu.Lock()
		if e.q.isEmpty() {
			wasPending := e.hadPending
			e.hadPending = false
			e.mu.Unlock()
			if wasPending {
				e.sink.emit(TopicLive, nil)
			}
			return
		}
		e.hadPending = true
		b := e.q.drainLowest()
		e.mu.Unlock()

		// step 1: already present -- discard and resolve.
		e.mu.Lock()
		if e.tr.get(b.Hash) != nil {
			e.mu.Unlock()
			e.resolveFutures(b.Hash)
			continue
		}

		isRoot := b.IsAnchor() || e.tr.size() == 0
		var parent *Block
		if !isRoot {
			parent = e.tr.get(b.ParentHash)
		}
		e.mu.Unlock()

		if !isRoot && parent == nil {
			// step 2: ancestry gap -- escalate to the backfill coordinator.
			fetched, err := e.backfill.resolveParentGap(ctx, b.ParentHash)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					e.sink.emit(TopicError, (&OrphanBackfillError{Hash: b.ParentHash}).Error())
					// the orphan can never be connected to the canonical chain;
					// seed it as its own (eventually prunable) root rather than
					// silently discarding so I5's rollback guarantee still holds.
					e.insert(b, nil)
					continue
				}

				// a transient fetch error (timeout, connection blip) is not
				// evidence the parent doesn't exist -- requeue b and retry
				// the parent chase later instead of orphaning a block that
				// may well still be canonical.
				e.log.Debugf("ethmonitor: parent chase for %s failed transiently, will retry: %v", b.ParentHash, err)
				e.mu.Lock()
				e.q.offer(b, e.tr)
				e.mu.Unlock()
				e.scheduleParentChaseRetry()
				return
			}

			e.mu.Lock()
			e.q.offer(fetched, e.tr)
			e.q.offer(b, e.tr)
			e.mu.Unlock()
			continue
		}

		e.insert(b, parent)
	}
}

// scheduleParentChaseRetry waits backfillRetryDelay before waking the
// drain worker again, giving a transiently-failing source time to recover
// instead of spinning the worker goroutine in a tight retry loop.
func (e *engine) scheduleParentChaseRetry() {
	if e.opts.Scheduler == nil {
		return
	}
	e.opts.Scheduler.After(backfillRetryDelay, e.wake)
}

// insert performs steps 3-4 of the insertion algorithm: insert b at
// childDepth 0, emit add, walk ancestors updating childDepth/emitting
// confirm, then run the pruner.
func (e *engine) insert(b *Block, parent *Block) {
	e.mu.Lock()
	b.ChildDepth = 0
	b.seq = e.tr.nextSeq()
	e.tr.insert(b)
	if b.Number > e.maxBlockNumber {
		e.maxBlockNumber = b.Number
	}
	cp := b.clone()
	e.mu.Unlock()

	e.sink.emit(TopicAdd, cp)
	e.resolveFutures(b.Hash)

	e.walkAncestors(parent)
	e.prune()
}

type ancestorStep struct {
	block      *Block
	depth      uint64
	confirming bool
}

// walkAncestors implements §4.3 step 3d: walk cur=parent upward while
// cur.childDepth < d, emitting confirm exactly on the step where a block's
// depth first reaches NumConfirmations, emitted before the depth update.
func (e *engine) walkAncestors(parent *Block) {
	if parent == nil {
		return
	}

	e.mu.Lock()
	var steps []ancestorStep
	cur := parent
	d := uint64(1)
	for cur != nil && cur.ChildDepth < d {
		confirming := d == e.opts.NumConfirmations && !e.confirmedOnce[cur.Hash]
		steps = append(steps, ancestorStep{block: cur, depth: d, confirming: confirming})
		cur = e.tr.get(cur.ParentHash)
		d++
	}
	e.mu.Unlock()

	for _, s := range steps {
		if s.confirming {
			e.mu.Lock()
			e.confirmedOnce[s.block.Hash] = true
			cp := s.block.clone()
			e.mu.Unlock()
			cp.ChildDepth = s.depth
			e.sink.emit(TopicConfirm, cp)
		}

		e.mu.Lock()
		s.block.ChildDepth = s.depth
		e.mu.Unlock()
	}
}

// prune implements §4.3.1: flush/rollback blocks that fell outside the
// stream window. rollback fires only for blocks that never confirmed
// (I5); both flush and rollback remove the block from the tree.
func (e *engine) prune() {
	e.mu.Lock()

	if observed := e.tr.maxBlockNumber(); observed > e.maxBlockNumber {
		e.maxBlockNumber = observed
	}
	maxNum := e.maxBlockNumber
	flushBelow := saturatingSub(maxNum, e.opts.StreamSize)
	rollbackBelow := saturatingSub(maxNum, e.opts.NumConfirmations)

	var candidates []*Block
	e.tr.iter(func(b *Block) {
		if b.Number < flushBelow || b.Number+b.ChildDepth < rollbackBelow {
			candidates = append(candidates, b)
		}
	})

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Number != candidates[j].Number {
			return candidates[i].Number < candidates[j].Number
		}
		return candidates[i].seq < candidates[j].seq
	})

	var toRollback []*Block
	for _, b := range candidates {
		// spec.md §4.3.1: the test is the block's childDepth at the moment
		// of removal, not whether a confirm event happened to fire for it.
		// confirmedOnce only dedupes the *event*; a snapshot-restored block
		// can have ChildDepth >= NumConfirmations (durable) without ever
		// having set confirmedOnce, and must still be flushed silently.
		wasConfirmed := b.ChildDepth >= e.opts.NumConfirmations
		e.tr.remove(b.Hash)
		delete(e.confirmedOnce, b.Hash)
		if !wasConfirmed {
			toRollback = append(toRollback, b.clone())
		}
	}
	e.mu.Unlock()

	for _, cp := range toRollback {
		e.sink.emit(TopicRollback, cp)
	}
}

func (e *engine) resolveFutures(hash Hash) {
	e.mu.Lock()
	chans := e.futures[hash]
	delete(e.futures, hash)
	e.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}

// restoreFromSnapshot bulk-inserts blocks without emitting add/confirm/
// rollback. childDepth values are trusted from the snapshot.
func (e *engine) restoreFromSnapshot(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range snap {
		b := &Block{
			Hash:       rec.Hash,
			ParentHash: rec.ParentHash,
			Number:     rec.Number,
			ChildDepth: rec.ChildDepth,
		}
		b.seq = e.tr.nextSeq()
		e.tr.insert(b)
		if b.Number > e.maxBlockNumber {
			e.maxBlockNumber = b.Number
		}
	}
}

// takeSnapshot returns every retained block with its current childDepth.
func (e *engine) takeSnapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := make(Snapshot, 0, e.tr.size())
	e.tr.iter(func(b *Block) {
		snap = append(snap, SnapshotRecord{
			Hash:       b.Hash,
			ParentHash: b.ParentHash,
			Number:     b.Number,
			ChildDepth: b.ChildDepth,
		})
	})
	sort.Slice(snap, func(i, j int) bool { return snap[i].Number < snap[j].Number })
	return snap
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
