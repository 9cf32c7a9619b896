package ethmonitor

import (
	"sync"
	"time"
)

// SnapshotTicker periodically calls fn with a Monitor's current snapshot,
// so a caller can persist it for warm restarts without wiring its own
// timer. Stop halts future ticks; it's safe to call more than once and
// from a different goroutine than the one driving the scheduler's
// callbacks (the real Scheduler fires each tick on its own goroutine, the
// same way time.AfterFunc does).
type SnapshotTicker struct {
	mu      sync.Mutex
	cancel  CancelHandle
	stopped bool
}

// NewSnapshotTicker schedules fn to run every interval via scheduler,
// starting after the first interval elapses.
func NewSnapshotTicker(scheduler Scheduler, m *Monitor, interval time.Duration, fn func(Snapshot)) *SnapshotTicker {
	t := &SnapshotTicker{}
	var tick func()
	tick = func() {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			return
		}
		fn(m.TakeSnapshot())

		t.mu.Lock()
		if !t.stopped {
			t.cancel = scheduler.After(interval, tick)
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	t.cancel = scheduler.After(interval, tick)
	t.mu.Unlock()
	return t
}

// Stop cancels future ticks.
func (t *SnapshotTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.cancel != nil {
		t.cancel.Cancel()
	}
}
