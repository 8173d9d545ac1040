// Package framing abstracts the layer that turns request-stream bytes into
// header/data events and back. Two variants exist: internal/h3 implements
// the full HTTP/3 framing and internal/h0 a minimal HTTP/0.9 style framing
// for the hq-interop ALPN.
package framing

import (
	"io"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"
)

// Stream is the write side of a request stream as seen by the framing
// layer. *quic.Stream satisfies it; tests substitute in-memory fakes.
type Stream interface {
	io.Writer
	// Close closes the send direction of the stream.
	Close() error
	StreamID() quic.StreamID
}

// Event is a typed event emitted by a framing Conn. The set of events is
// closed: RequestReceived and DataReceived.
type Event interface {
	framingEvent()
}

// RequestReceived is emitted once per request stream when the complete
// initial header block has been decoded.
type RequestReceived struct {
	StreamID quic.StreamID
	// Headers is the decoded header list in wire order, names lower-cased,
	// pseudo headers included.
	Headers []qpack.HeaderField
}

// DataReceived carries a chunk of request body. StreamEnded is set on the
// final chunk; a request without a body still yields one empty DataReceived
// with StreamEnded set.
type DataReceived struct {
	StreamID    quic.StreamID
	Data        []byte
	StreamEnded bool
}

func (*RequestReceived) framingEvent() {}
func (*DataReceived) framingEvent()    {}

// Conn is one framing session over one transport connection.
//
// HandleStreamData consumes a chunk of bytes read from a bidirectional
// stream and returns the events it completes, in order. SendHeaders and
// SendData queue output for the given stream; nothing reaches the transport
// until Flush. Flush is cheap when nothing is queued.
type Conn interface {
	HandleStreamData(str Stream, p []byte, fin bool) ([]Event, error)
	// HandleUniStream consumes an incoming unidirectional stream. It blocks
	// until the stream is drained and is expected to run in its own
	// goroutine.
	HandleUniStream(r io.Reader) error
	SendHeaders(id quic.StreamID, headers []qpack.HeaderField) error
	SendData(id quic.StreamID, p []byte, endStream bool) error
	Flush() error
	// CloseStream releases all state held for the stream, discarding any
	// queued output. Called after a stream reset or connection teardown;
	// a no-op for unknown streams.
	CloseStream(id quic.StreamID)
	// Proto reports the HTTP version spoken, "3" or "0.9".
	Proto() string
}
