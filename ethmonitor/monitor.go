package ethmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/goware/logger"
)

// Monitor is the C6 lifecycle controller: it owns anchor resolution, the
// polling loop, and the public read/subscribe surface. It wires the tree
// engine (C4) and backfill coordinator (C5) together over a shared
// BlockSource and EventSink.
type Monitor struct {
	log    logger.Logger
	opts   *Options
	source BlockSource

	sink     *eventSink
	engine   *engine
	backfill *backfiller

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	subMu sync.Mutex
	subs  []*Subscription
}

// New constructs a Monitor. Config is validated synchronously: an invalid
// Anchor combination or numConfirmations >= streamSize returns a
// *ConfigError rather than failing later at Run.
func New(source BlockSource, opts Options) (*Monitor, error) {
	if source == nil {
		return nil, &ConfigError{Reason: "source is required"}
	}

	o := opts
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.Scheduler == nil {
		o.Scheduler = NewRealtimeScheduler()
	}

	sink := newEventSink(o.Logger)
	e := newEngine(&o, sink)
	bf := newBackfiller(&o, source, o.Scheduler, sink, e)
	e.backfill = bf

	m := &Monitor{
		log:      o.Logger,
		opts:     &o,
		source:   source,
		sink:     sink,
		engine:   e,
		backfill: bf,
	}

	// forward every add to push-based Subscribe() consumers, mirroring the
	// teacher's broadcast-on-add pubsub alongside the callback EventSink.
	sink.on(TopicAdd, func(p any) { m.broadcastAdd(p.(*Block)) })

	return m, nil
}

// Run resolves the anchor, then polls source.GetLatestBlock every
// PollDelay, feeding every fetched block through the tree engine. Run
// blocks until ctx is done or Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	readyCh := m.sink.promise(TopicReady)
	m.fetchFirstBlock(ctx)

	// anchor resolution may still be retrying on the Scheduler; polling
	// starts only once ready has fired and the anchor is in the tree.
	select {
	case <-readyCh:
	case <-ctx.Done():
		m.Stop()
		return ctx.Err()
	case <-m.stopCh:
		return nil
	}

	ticker := time.NewTicker(m.opts.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return ctx.Err()
		case <-m.stopCh:
			return nil
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// Stop cooperatively cancels the polling loop. It's safe to call multiple
// times and from any goroutine.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// IsRunning reports whether the polling loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) poll(ctx context.Context) {
	m.backfill.maybeBatchBackfill(ctx)

	fctx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	blk, err := m.source.GetLatestBlock(fctx)
	cancel()
	if err != nil {
		m.log.Debugf("ethmonitor: poll: GetLatestBlock failed: %v", err)
		return
	}

	<-m.engine.addBlock(ctx, blk)
}

// fetchFirstBlock resolves the configured Anchor (spec.md §4.5), inserting
// the root block directly into the tree engine (or, for FromSnapshot,
// bulk-restoring it) before emitting ready -- by the time ready fires, and
// therefore by the time Run starts its polling ticker, maxBlockNumber
// already reflects the anchor, so the first maybeBatchBackfill call never
// sees a zeroed tree and mistakes a live chain for one needing a
// from-genesis batch backfill. Network failures retry after a fixed delay
// via Scheduler rather than failing Run.
func (m *Monitor) fetchFirstBlock(ctx context.Context) {
	isSnapshot, isHash, isNumber := m.opts.Anchor.kind()
	switch {
	case isSnapshot:
		m.engine.restoreFromSnapshot(m.opts.Anchor.FromSnapshot)
		m.sink.emit(TopicReady, nil)
	case isHash:
		m.resolveAnchorByHash(ctx, m.opts.Anchor.FromBlockHash)
	case isNumber:
		m.resolveAnchorByNumber(ctx, m.opts.Anchor.FromBlockNumber)
	default:
		m.resolveAnchorFromHead(ctx)
	}
}

func (m *Monitor) resolveAnchorByHash(ctx context.Context, hash Hash) {
	fctx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	blk, err := m.source.GetBlockByHash(fctx, hash)
	cancel()
	if err != nil {
		m.log.Warnf("ethmonitor: anchor resolution (hash %s) failed, retrying: %v", hash, err)
		m.retryFetchFirstBlock(ctx, func() { m.resolveAnchorByHash(ctx, hash) })
		return
	}
	m.engine.seedAnchor(blk)
	m.sink.emit(TopicReady, nil)
}

func (m *Monitor) resolveAnchorByNumber(ctx context.Context, number uint64) {
	fctx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	blk, err := m.source.GetBlockByNumber(fctx, number)
	cancel()
	if err != nil {
		m.log.Warnf("ethmonitor: anchor resolution (number %d) failed, retrying: %v", number, err)
		m.retryFetchFirstBlock(ctx, func() { m.resolveAnchorByNumber(ctx, number) })
		return
	}
	m.engine.seedAnchor(blk)
	m.sink.emit(TopicReady, nil)
}

func (m *Monitor) resolveAnchorFromHead(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	head, err := m.source.GetBlockNumber(fctx)
	cancel()
	if err != nil {
		m.log.Warnf("ethmonitor: anchor resolution (head) failed, retrying: %v", err)
		m.retryFetchFirstBlock(ctx, func() { m.resolveAnchorFromHead(ctx) })
		return
	}

	anchorNum := saturatingSub(head, m.opts.StreamSize)
	m.resolveAnchorByNumber(ctx, anchorNum)
}

func (m *Monitor) retryFetchFirstBlock(ctx context.Context, fn func()) {
	m.opts.Scheduler.After(backfillRetryDelay, func() {
		if !m.stillStarting() {
			return
		}
		fn()
	})
}

// stillStarting reports whether Run hasn't been stopped since this retry
// was scheduled, so a late anchor retry doesn't fire after Stop.
func (m *Monitor) stillStarting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// On registers a persistent handler for topic.
func (m *Monitor) On(topic Topic, h Handler) (unsubscribe func()) {
	return m.sink.on(topic, h)
}

// Once registers a handler that fires at most once.
func (m *Monitor) Once(topic Topic, h Handler) (unsubscribe func()) {
	return m.sink.once(topic, h)
}

// RemoveListener removes the handler registered on topic under the event
// sink's internal registration id. On and Once do not return that id; they
// return an unsubscribe function that removes the handler.
func (m *Monitor) RemoveListener(topic Topic, id uint64) {
	m.sink.removeListener(topic, id)
}

// Promise resolves with the payload of the next event emitted on topic.
func (m *Monitor) Promise(topic Topic) <-chan any {
	return m.sink.promise(topic)
}

// AddBlock feeds a block through the tree engine directly, bypassing the
// polling loop. The returned channel closes once the block has been
// inserted (or immediately if it was already present). Exposed so callers
// can drive the monitor from a push-based source (e.g. a WS subscription)
// and so tests can assert on deterministic insertion order.
func (m *Monitor) AddBlock(ctx context.Context, b *Block) <-chan struct{} {
	return m.engine.addBlock(ctx, b)
}

// GetBlock returns the block with the given hash, if still retained.
func (m *Monitor) GetBlock(hash Hash) (*Block, bool) {
	m.engine.mu.Lock()
	defer m.engine.mu.Unlock()
	b := m.engine.tr.get(hash)
	if b == nil {
		return nil, false
	}
	return b.clone(), true
}

// LatestBlockNum returns the highest block number ever observed.
func (m *Monitor) LatestBlockNum() uint64 {
	return m.engine.currentMaxBlockNumber()
}

// OldestBlockNum returns the lowest block number currently retained, or 0
// if the tree is empty.
func (m *Monitor) OldestBlockNum() uint64 {
	m.engine.mu.Lock()
	defer m.engine.mu.Unlock()

	var oldest uint64
	first := true
	m.engine.tr.iter(func(b *Block) {
		if first || b.Number < oldest {
			oldest = b.Number
			first = false
		}
	})
	return oldest
}

// TreeSize returns the number of blocks currently retained.
func (m *Monitor) TreeSize() int {
	return m.engine.treeSize()
}

// QueueDepth returns the number of blocks currently staged awaiting
// ancestry resolution.
func (m *Monitor) QueueDepth() int {
	m.engine.mu.Lock()
	defer m.engine.mu.Unlock()
	return m.engine.q.len()
}

// TakeSnapshot exports every retained block for later restoration via
// WithSnapshot (spec.md §6).
func (m *Monitor) TakeSnapshot() Snapshot {
	return m.engine.takeSnapshot()
}
