package ethmonitor

import (
	"testing"
	"time"

	"github.com/goware/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSinkOnDispatchesInRegistrationOrder(t *testing.T) {
	s := newEventSink(logger.NewLogger(logger.LogLevel_WARN))

	var order []string
	s.on(TopicAdd, func(any) { order = append(order, "first") })
	s.on(TopicAdd, func(any) { order = append(order, "second") })

	s.emit(TopicAdd, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventSinkOnceFiresAtMostOnce(t *testing.T) {
	s := newEventSink(logger.NewLogger(logger.LogLevel_WARN))

	calls := 0
	s.once(TopicReady, func(any) { calls++ })

	s.emit(TopicReady, nil)
	s.emit(TopicReady, nil)
	assert.Equal(t, 1, calls)
}

func TestEventSinkRemoveListener(t *testing.T) {
	s := newEventSink(logger.NewLogger(logger.LogLevel_WARN))

	calls := 0
	unsub := s.on(TopicAdd, func(any) { calls++ })
	unsub()

	s.emit(TopicAdd, nil)
	assert.Equal(t, 0, calls)
}

func TestEventSinkPanicInHandlerDoesNotStopDispatch(t *testing.T) {
	s := newEventSink(logger.NewLogger(logger.LogLevel_WARN))

	ran := false
	s.on(TopicAdd, func(any) { panic("boom") })
	s.on(TopicAdd, func(any) { ran = true })

	require.NotPanics(t, func() { s.emit(TopicAdd, nil) })
	assert.True(t, ran)
}

func TestEventSinkPromiseResolvesWithNextPayload(t *testing.T) {
	s := newEventSink(logger.NewLogger(logger.LogLevel_WARN))

	ch := s.promise(TopicConfirm)
	blk := &Block{Hash: "0xA"}
	s.emit(TopicConfirm, blk)

	select {
	case payload := <-ch:
		assert.Same(t, blk, payload)
	case <-time.After(time.Second):
		t.Fatal("promise did not resolve")
	}

	_, open := <-ch
	assert.False(t, open, "promise channel should close after delivering")
}
