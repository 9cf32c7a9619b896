package ethmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// spec.md §8: addBlock(B) called N times for the same hash must insert
// exactly once and resolve all N returned futures -- whether the calls
// race ahead of the drain cycle (and dedupe in the queue) or land after
// the block is already in the tree (and resolve immediately).
func TestEngineAddBlockIsIdempotentForSameHash(t *testing.T) {
	opts := Options{Logger: testLogger(), StreamSize: 10, NumConfirmations: 2}

	sink := newEventSink(opts.Logger)
	e := newEngine(&opts, sink)

	adds := 0
	sink.on(TopicAdd, func(any) { adds++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := mkBlock("0xA", NullHash, 1)

	const n = 5
	chans := make([]<-chan struct{}, n)
	for i := 0; i < n; i++ {
		chans[i] = e.addBlock(ctx, b)
	}

	for i, ch := range chans {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("addBlock future %d never resolved", i)
		}
	}

	assert.Equal(t, 1, adds, "addBlock(B) called N times for the same hash must insert exactly once")
}
