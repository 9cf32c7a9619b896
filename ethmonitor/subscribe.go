package ethmonitor

import (
	"github.com/goware/channel"
)

// Subscription is a push-based alternative to the callback EventSink,
// mirroring the teacher's Subscribe()/broadcast() API. Every block the
// engine adds is delivered in order; a slow consumer never blocks the
// engine since the underlying channel is unbounded (backed by
// goware/channel, the same library the teacher uses for its own
// subscriber queues).
type Subscription struct {
	ch          *channel.Channel[*Block]
	unsubscribe func()
}

// Blocks returns the channel of added blocks. Safe to range over; it's
// closed once Unsubscribe is called.
func (s *Subscription) Blocks() <-chan *Block {
	return s.ch.ReadChannel()
}

// Unsubscribe stops delivery and closes the channel returned by Blocks.
func (s *Subscription) Unsubscribe() {
	s.unsubscribe()
}

// Subscribe registers a new push-based subscriber. Complements On(TopicAdd,
// ...) for callers that prefer to range over a channel rather than
// register a Handler.
func (m *Monitor) Subscribe() *Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	sub := &Subscription{
		ch: channel.NewUnboundedChan[*Block](m.log, 64, 5000),
	}
	sub.unsubscribe = func() {
		m.subMu.Lock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.subMu.Unlock()
		sub.ch.Close()
		sub.ch.Flush()
	}

	m.subs = append(m.subs, sub)
	return sub
}

func (m *Monitor) broadcastAdd(b *Block) {
	m.subMu.Lock()
	subs := append([]*Subscription(nil), m.subs...)
	m.subMu.Unlock()

	for _, s := range subs {
		s.ch.Send(b)
	}
}
