package ethmonitor

import "time"

// realtimeScheduler is the production Scheduler, backed by time.AfterFunc.
type realtimeScheduler struct{}

// NewRealtimeScheduler returns a Scheduler that delivers callbacks via the
// Go runtime timer wheel.
func NewRealtimeScheduler() Scheduler {
	return realtimeScheduler{}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() {
	h.t.Stop()
}

func (realtimeScheduler) After(d time.Duration, fn func()) CancelHandle {
	t := time.AfterFunc(d, fn)
	return timerHandle{t: t}
}
