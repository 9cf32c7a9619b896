package ethmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/goware/calc"
	"github.com/goware/logger"
	"golang.org/x/sync/errgroup"
)

// backfillRetryDelay is the floor for how long the batch backfiller waits
// before trying again after a failed head-number or batch fetch.
const backfillRetryDelay = 3 * time.Second

// backfiller is the C5 backfill coordinator. It resolves single missing
// parents inline (parent-chase) and, when the chain head has run far ahead
// of the tree, fetches whole ranges in parallel (batch backfill).
type backfiller struct {
	log       logger.Logger
	opts      *Options
	source    BlockSource
	scheduler Scheduler
	sink      *eventSink
	engine    *engine

	mu              sync.Mutex
	addingOldBlocks bool
}

func newBackfiller(opts *Options, source BlockSource, scheduler Scheduler, sink *eventSink, e *engine) *backfiller {
	return &backfiller{
		log:       opts.Logger,
		opts:      opts,
		source:    source,
		scheduler: scheduler,
		sink:      sink,
		engine:    e,
	}
}

// resolveParentGap fetches the single block identified by hash (the
// missing parent of whatever the drain loop was processing). Used for the
// common one-block-at-a-time reorg/gap case (spec.md §4.4 parent chase).
// The returned error is passed back to the caller unwrapped so it can
// distinguish ErrNotFound (the parent genuinely doesn't exist -- orphan)
// from any other, transient failure (retry), the same distinction the
// teacher's fetchBlockByHash draws between ethereum.NotFound and a
// connection error.
func (b *backfiller) resolveParentGap(ctx context.Context, hash Hash) (*Block, error) {
	fctx, cancel := context.WithTimeout(ctx, b.opts.FetchTimeout)
	defer cancel()

	parent, err := b.source.GetBlockByHash(fctx, hash)
	if err != nil {
		b.log.Debugf("ethmonitor: parent chase for %s failed: %v", hash, err)
		return nil, err
	}
	return parent, nil
}

// maybeBatchBackfill is called by the monitor's poll loop before each
// "latest" fetch. If the source is far enough ahead of the tree's
// maxBlockNumber (beyond MaxBackfills), it fetches the gap in
// parallel batches until caught up. Re-entrant calls are a no-op: only one
// batch backfill runs at a time (mirrors the teacher's isRunning guard).
func (b *backfiller) maybeBatchBackfill(ctx context.Context) {
	b.mu.Lock()
	if b.addingOldBlocks {
		b.mu.Unlock()
		return
	}
	b.addingOldBlocks = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.addingOldBlocks = false
		b.mu.Unlock()
	}()

	for {
		fctx, cancel := context.WithTimeout(ctx, b.opts.FetchTimeout)
		head, err := b.source.GetBlockNumber(fctx)
		cancel()
		if err != nil {
			b.log.Warnf("ethmonitor: batch backfill: fetching head number failed: %v", err)
			b.scheduleRetry(ctx)
			return
		}

		maxNum := b.engine.currentMaxBlockNumber()
		if head <= maxNum+b.opts.MaxBackfills {
			return
		}

		low := maxNum + 1
		high := head - b.opts.MaxBackfills
		if span := uint64(b.opts.BatchSize); high-low+1 > span {
			high = low + span - 1
		}

		fetched, err := b.fetchRange(ctx, low, high)
		if err != nil {
			b.log.Warnf("ethmonitor: batch backfill: fetching range [%d,%d] failed: %v", low, high, err)
			b.scheduleRetry(ctx)
			return
		}

		b.engine.stageAwait(ctx, fetched...)
	}
}

// fetchRange fetches every block number in [low, high] concurrently,
// bounded by BatchTimeout, and returns them in ascending order.
func (b *backfiller) fetchRange(ctx context.Context, low, high uint64) ([]*Block, error) {
	count := int(high - low + 1)
	fetched := make([]*Block, count)

	gctx, cancel := context.WithTimeout(ctx, b.opts.BatchTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)
	for i := 0; i < count; i++ {
		i := i
		num := low + uint64(i)
		g.Go(func() error {
			blk, err := b.source.GetBlockByNumber(gctx, num)
			if err != nil {
				return err
			}
			fetched[i] = blk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetched, nil
}

// scheduleRetry waits at least twice the poll interval (never less than
// backfillRetryDelay) before trying again, the same pause-after-failure
// rule the teacher applies after a reorg: give the node time to catch up
// rather than hammering it.
func (b *backfiller) scheduleRetry(ctx context.Context) {
	if b.scheduler == nil {
		return
	}
	delay := calc.Max(2*b.opts.PollDelay, backfillRetryDelay)
	b.scheduler.After(delay, func() {
		b.maybeBatchBackfill(ctx)
	})
}
