package h3serve

import (
	"context"
	"sync"
)

// A mailbox is the unbounded ordered queue between the connection
// dispatcher and one stream's application task. put never blocks; get is
// the task's sole suspension point. Closing the mailbox resolves a blocked
// get with a terminal message once the queue has drained, so a stream reset
// never strands the application goroutine.
type mailbox struct {
	mu     sync.Mutex
	items  []InboundMessage
	final  InboundMessage
	closed bool

	notify chan struct{}
	done   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) put(msg InboundMessage) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.items = append(m.items, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// close marks the mailbox closed; after the queued messages drain, get
// returns final. Idempotent: only the first close takes effect.
func (m *mailbox) close(final InboundMessage) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.final = final
	m.mu.Unlock()
	close(m.done)
}

func (m *mailbox) get(ctx context.Context) (InboundMessage, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			msg := m.items[0]
			m.items = m.items[1:]
			m.mu.Unlock()
			return msg, nil
		}
		if m.closed {
			final := m.final
			m.mu.Unlock()
			return final, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-m.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
