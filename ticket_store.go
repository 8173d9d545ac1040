package h3serve

import (
	"crypto/rand"
	"crypto/tls"
	"sync"
)

// A SessionTicket is an opaque resumption token plus the label identifying
// it. State holds the encoded TLS session state the label stands in for.
type SessionTicket struct {
	Label []byte
	State []byte
}

// TicketStore is an in-memory store for session-resumption tickets. Entries
// are added when the transport issues a ticket and consumed, at most once,
// when a client presents one. It is unbounded: ticket volume tracks
// connection establishment, not requests.
//
// A TicketStore is shared across connections and safe for concurrent use.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]*SessionTicket
}

func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[string]*SessionTicket)}
}

// Add inserts the ticket under its own label. Last write wins.
func (s *TicketStore) Add(t *SessionTicket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[string(t.Label)] = t
}

// Pop removes and returns the ticket for label, or nil if it was never
// added or already consumed. Absence is not an error: resumption is
// best-effort.
func (s *TicketStore) Pop(label []byte) *SessionTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[string(label)]
	if !ok {
		return nil
	}
	delete(s.tickets, string(label))
	return t
}

// Len reports the number of stored tickets.
func (s *TicketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

// wrapSession and unwrapSession bind the store to crypto/tls: issuing a
// ticket stores the session state under a fresh random label and hands the
// label to the client; presenting the label back consumes the entry.

func (s *TicketStore) wrapSession(cs tls.ConnectionState, state *tls.SessionState) ([]byte, error) {
	b, err := state.Bytes()
	if err != nil {
		return nil, err
	}
	label := make([]byte, 16)
	if _, err := rand.Read(label); err != nil {
		return nil, err
	}
	s.Add(&SessionTicket{Label: label, State: b})
	return label, nil
}

func (s *TicketStore) unwrapSession(label []byte, cs tls.ConnectionState) (*tls.SessionState, error) {
	t := s.Pop(label)
	if t == nil {
		return nil, nil
	}
	return tls.ParseSessionState(t.State)
}
