package ethmonitor

import (
	"fmt"
	"sync"

	"github.com/goware/logger"
)

// Topic identifies one of the six semantic event channels the core emits.
type Topic string

const (
	TopicReady    Topic = "ready"
	TopicAdd      Topic = "add"
	TopicConfirm  Topic = "confirm"
	TopicRollback Topic = "rollback"
	TopicLive     Topic = "live"
	TopicError    Topic = "error"
)

// Handler receives the payload emitted on a topic. For TopicAdd/Confirm/
// Rollback the payload is a *Block; for TopicError it's a string; for
// TopicReady/TopicLive it's nil.
type Handler func(payload any)

type registration struct {
	id      uint64
	handler Handler
	once    bool
}

// eventSink is the C7 topic -> handler-list registry. Dispatch from emit is
// synchronous and in registration order; a panicking/erroring handler must
// never prevent the remaining handlers from running (HandlerError is
// logged and swallowed), mirroring the teacher's isolated per-subscriber
// channel send in broadcast().
type eventSink struct {
	log logger.Logger

	mu       sync.Mutex
	handlers map[Topic][]registration
	nextID   uint64
}

func newEventSink(log logger.Logger) *eventSink {
	return &eventSink{
		log:      log,
		handlers: make(map[Topic][]registration),
	}
}

// on registers a persistent handler for topic, returning an unsubscribe
// function.
func (s *eventSink) on(topic Topic, h Handler) (unsubscribe func()) {
	return s.register(topic, h, false)
}

// once registers a handler that fires at most one time then auto-removes
// itself.
func (s *eventSink) once(topic Topic, h Handler) (unsubscribe func()) {
	return s.register(topic, h, true)
}

func (s *eventSink) register(topic Topic, h Handler, once bool) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[topic] = append(s.handlers[topic], registration{id: id, handler: h, once: once})
	s.mu.Unlock()

	return func() { s.removeListener(topic, id) }
}

func (s *eventSink) removeListener(topic Topic, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs := s.handlers[topic]
	for i, r := range regs {
		if r.id == id {
			s.handlers[topic] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// emit dispatches payload to every handler registered on topic, in
// registration order, synchronously. A handler that panics is recovered
// and logged as a HandlerError; dispatch continues to the rest.
func (s *eventSink) emit(topic Topic, payload any) {
	s.mu.Lock()
	// copy the slice so handlers may safely (un)subscribe during dispatch
	regs := append([]registration(nil), s.handlers[topic]...)
	s.mu.Unlock()

	var onceIDs []uint64
	for _, r := range regs {
		s.dispatchOne(topic, r, payload)
		if r.once {
			onceIDs = append(onceIDs, r.id)
		}
	}
	for _, id := range onceIDs {
		s.removeListener(topic, id)
	}
}

func (s *eventSink) dispatchOne(topic Topic, r registration, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			err := &HandlerError{Topic: string(topic), Err: fmt.Errorf("panic: %v", rec)}
			if s.log != nil {
				s.log.Warnf("ethmonitor: %v", err)
			}
		}
	}()
	r.handler(payload)
}

// promise resolves (via the returned channel) with the payload of the next
// event emitted on topic. The channel is closed after delivering exactly
// one value.
func (s *eventSink) promise(topic Topic) <-chan any {
	ch := make(chan any, 1)
	var unsub func()
	unsub = s.once(topic, func(payload any) {
		ch <- payload
		close(ch)
	})
	_ = unsub
	return ch
}
