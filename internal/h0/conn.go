// Package h0 implements the minimal HTTP/0.9 style framing spoken under the
// hq-interop ALPN: the request is a single "METHOD SP PATH CRLF" line, the
// response is raw bytes on the same stream. It exists so the server can be
// exercised with interop tooling that predates full HTTP/3 stacks.
package h0

import (
	"bytes"
	"fmt"
	"io"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"

	"github.com/pgjones/h3serve/internal/framing"
)

type streamState struct {
	str framing.Stream

	in         []byte
	sawRequest bool

	out        bytes.Buffer
	endStream  bool
	sendClosed bool
	recvDone   bool
}

// A Conn is one hq-interop framing session. Methods must be externally
// serialized, matching the h3 variant.
type Conn struct {
	streams map[quic.StreamID]*streamState
}

func NewConn() *Conn {
	return &Conn{streams: make(map[quic.StreamID]*streamState)}
}

func (c *Conn) Proto() string { return "0.9" }

// HandleStreamData buffers until the request line is complete, then emits a
// RequestReceived with synthesized :method and :path pseudo headers.
// Anything after the request line is body data.
func (c *Conn) HandleStreamData(str framing.Stream, p []byte, fin bool) ([]framing.Event, error) {
	id := str.StreamID()
	s := c.streams[id]
	if s == nil {
		s = &streamState{str: str}
		c.streams[id] = s
	}
	s.in = append(s.in, p...)

	var events []framing.Event
	if !s.sawRequest {
		i := bytes.Index(s.in, []byte("\r\n"))
		if i < 0 {
			if i = bytes.IndexByte(s.in, '\n'); i < 0 {
				if fin {
					return nil, fmt.Errorf("h0: stream %d ended before the request line", id)
				}
				return nil, nil
			}
		}
		line := bytes.TrimRight(s.in[:i], "\r")
		rest := s.in[i:]
		if n := bytes.IndexByte(rest, '\n'); n >= 0 {
			rest = rest[n+1:]
		}
		s.in = rest
		method, path, ok := bytes.Cut(line, []byte(" "))
		if !ok {
			return nil, fmt.Errorf("h0: malformed request line on stream %d: %q", id, line)
		}
		s.sawRequest = true
		events = append(events, &framing.RequestReceived{
			StreamID: id,
			Headers: []qpack.HeaderField{
				{Name: ":method", Value: string(method)},
				{Name: ":path", Value: string(bytes.TrimSpace(path))},
			},
		})
	}

	if len(s.in) > 0 {
		data := make([]byte, len(s.in))
		copy(data, s.in)
		s.in = s.in[:0]
		events = append(events, &framing.DataReceived{StreamID: id, Data: data})
	}
	if fin {
		s.recvDone = true
		if s.sendClosed {
			delete(c.streams, id)
		}
		if len(events) > 0 {
			if d, ok := events[len(events)-1].(*framing.DataReceived); ok {
				d.StreamEnded = true
				return events, nil
			}
		}
		events = append(events, &framing.DataReceived{StreamID: id, StreamEnded: true})
	}
	return events, nil
}

// HandleUniStream drains the stream; hq-interop defines no unidirectional
// stream semantics.
func (c *Conn) HandleUniStream(r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// SendHeaders is a no-op: HTTP/0.9 responses carry no headers.
func (c *Conn) SendHeaders(id quic.StreamID, headers []qpack.HeaderField) error {
	if _, err := c.sendStream(id); err != nil {
		return err
	}
	return nil
}

func (c *Conn) SendData(id quic.StreamID, p []byte, endStream bool) error {
	s, err := c.sendStream(id)
	if err != nil {
		return err
	}
	s.out.Write(p)
	if endStream {
		s.endStream = true
	}
	return nil
}

// Flush writes queued output and closes the send direction of streams
// marked ended. Receive state survives an early send-side close so late
// body bytes stay body bytes instead of being re-parsed as a request line;
// state is released once both directions have finished.
func (c *Conn) Flush() error {
	var firstErr error
	for id, s := range c.streams {
		if s.out.Len() > 0 {
			if _, err := s.str.Write(s.out.Bytes()); err != nil && firstErr == nil {
				firstErr = err
			}
			s.out.Reset()
		}
		if s.endStream && !s.sendClosed {
			s.sendClosed = true
			if err := s.str.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			if s.recvDone {
				delete(c.streams, id)
			}
		}
	}
	return firstErr
}

// CloseStream releases all state held for the stream, discarding any queued
// output. The dispatcher calls it when a stream is reset or the connection
// tears down.
func (c *Conn) CloseStream(id quic.StreamID) {
	delete(c.streams, id)
}

func (c *Conn) sendStream(id quic.StreamID) (*streamState, error) {
	s := c.streams[id]
	if s == nil {
		return nil, fmt.Errorf("h0: send on unknown stream %d", id)
	}
	if s.sendClosed {
		return nil, fmt.Errorf("h0: send on closed stream %d", id)
	}
	return s, nil
}
