package ethmonitor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeSource is an in-memory BlockSource. Blocks must be registered via add
// before they can be fetched; GetBlockByHash/GetBlockByNumber return
// ErrNotFound for anything unregistered, the same as a real RPC node that
// has never seen the hash.
type fakeSource struct {
	mu       sync.Mutex
	byHash   map[Hash]*Block
	byNumber map[uint64]*Block
	head     uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		byHash:   make(map[Hash]*Block),
		byNumber: make(map[uint64]*Block),
	}
}

func (s *fakeSource) add(b *Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	s.byHash[b.Hash] = &cp
	s.byNumber[b.Number] = &cp
	if b.Number > s.head {
		s.head = b.Number
	}
}

func (s *fakeSource) GetBlockByHash(ctx context.Context, hash Hash) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *fakeSource) GetBlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *fakeSource) GetLatestBlock(ctx context.Context) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byNumber[s.head]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *fakeSource) GetBlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

// flakySource wraps a fakeSource and fails the first few GetBlockByHash
// calls for one specific hash with a transient (non-ErrNotFound) error
// before serving the real answer -- used to exercise the parent-chase
// retry path distinctly from the not-found/orphan path.
type flakySource struct {
	*fakeSource
	mu        sync.Mutex
	failHash  Hash
	failsLeft int
}

func newFlakySource(inner *fakeSource, failHash Hash, fails int) *flakySource {
	return &flakySource{fakeSource: inner, failHash: failHash, failsLeft: fails}
}

var errFlakyConnection = errors.New("connection reset by peer")

func (s *flakySource) GetBlockByHash(ctx context.Context, hash Hash) (*Block, error) {
	s.mu.Lock()
	if hash == s.failHash && s.failsLeft > 0 {
		s.failsLeft--
		s.mu.Unlock()
		return nil, errFlakyConnection
	}
	s.mu.Unlock()
	return s.fakeSource.GetBlockByHash(ctx, hash)
}

// noopCancel satisfies CancelHandle for callbacks the tests never need to
// cancel.
type noopCancel struct{}

func (noopCancel) Cancel() {}

// fakeScheduler records every callback handed to After instead of running
// it on a real timer, so retry-driven tests can fire them deterministically
// with fireAll rather than sleeping past backfillRetryDelay.
type fakeScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) After(d time.Duration, fn func()) CancelHandle {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
	return noopCancel{}
}

func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	fns := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// recorder captures emitted event payloads in arrival order, safe for
// concurrent recording from the monitor's worker goroutine while the test
// goroutine reads a snapshot.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) record(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(s string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == s {
			n++
		}
	}
	return n
}

func (r *recorder) contains(s string) bool {
	return r.count(s) > 0
}

// attachRecorder wires a recorder to every topic a Monitor emits, formatting
// *Block payloads as "<topic>:<hash>" and errors/bare topics as "<topic>" /
// "<topic>:<message>".
func attachRecorder(m *Monitor) *recorder {
	r := newRecorder()

	m.On(TopicReady, func(any) { r.record("ready") })
	m.On(TopicLive, func(any) { r.record("live") })
	m.On(TopicAdd, func(p any) { r.record("add:" + string(p.(*Block).Hash)) })
	m.On(TopicConfirm, func(p any) { r.record("confirm:" + string(p.(*Block).Hash)) })
	m.On(TopicRollback, func(p any) { r.record("rollback:" + string(p.(*Block).Hash)) })
	m.On(TopicError, func(p any) { r.record("error:" + p.(string)) })

	return r
}
