// Package h3 implements the server side of the HTTP/3 framing layer: it
// turns request-stream bytes into header/data events and frames outbound
// headers and data, with qpack header compression. Only the parts needed to
// serve requests are implemented; the QPACK dynamic table is not used and
// server push is not supported.
package h3

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/pgjones/h3serve/internal/framing"
)

type recvState int

const (
	recvFrameHeader recvState = iota
	recvHeadersPayload
	recvDataPayload
	recvSkipPayload
)

type streamState struct {
	str framing.Stream

	in         []byte
	state      recvState
	frameType  uint64
	frameLen   uint64 // remaining payload bytes of the current frame
	sawHeaders bool

	out        bytes.Buffer
	endStream  bool
	sendClosed bool
	recvDone   bool
}

// A Conn is one HTTP/3 framing session over one QUIC connection.
//
// All methods except HandleUniStream must be externally serialized; the
// connection dispatcher calls them under its own lock. HandleUniStream
// touches no shared state and may run concurrently.
type Conn struct {
	decoder *qpack.Decoder
	streams map[quic.StreamID]*streamState
}

func NewConn() *Conn {
	return &Conn{
		decoder: qpack.NewDecoder(func(qpack.HeaderField) {}),
		streams: make(map[quic.StreamID]*streamState),
	}
}

// Start writes the stream type and an empty SETTINGS frame to the server's
// control stream. It must be called once, before the peer's requests are
// answered.
func (c *Conn) Start(ctrl io.Writer) error {
	b := quicvarint.Append(nil, streamTypeControl)
	b = (&settingsFrame{}).Append(b)
	_, err := ctrl.Write(b)
	return err
}

func (c *Conn) Proto() string { return "3" }

// HandleStreamData consumes a chunk read from a request stream and returns
// the events completed by it. Frames may span chunk boundaries; unknown
// frame types are skipped, trailer header blocks are ignored.
func (c *Conn) HandleStreamData(str framing.Stream, p []byte, fin bool) ([]framing.Event, error) {
	id := str.StreamID()
	s := c.streams[id]
	if s == nil {
		s = &streamState{str: str}
		c.streams[id] = s
	}
	s.in = append(s.in, p...)

	var events []framing.Event
loop:
	for {
		switch s.state {
		case recvFrameHeader:
			if len(s.in) == 0 {
				break loop
			}
			ft, n, ok := parseVarint(s.in)
			if !ok {
				break loop
			}
			length, m, ok := parseVarint(s.in[n:])
			if !ok {
				break loop
			}
			s.in = s.in[n+m:]
			s.frameType, s.frameLen = ft, length
			switch ft {
			case frameTypeHeaders:
				s.state = recvHeadersPayload
			case frameTypeData:
				if !s.sawHeaders {
					return events, fmt.Errorf("h3: DATA frame before HEADERS on stream %d", id)
				}
				s.state = recvDataPayload
			case frameTypeSettings, frameTypeCancelPush, frameTypeGoAway, frameTypeMaxPushID, frameTypePushPromise:
				return events, fmt.Errorf("h3: unexpected frame type 0x%x on request stream %d", ft, id)
			default:
				s.state = recvSkipPayload
			}
		case recvHeadersPayload:
			if uint64(len(s.in)) < s.frameLen {
				break loop
			}
			block := s.in[:s.frameLen]
			s.in = s.in[s.frameLen:]
			s.state = recvFrameHeader
			if s.sawHeaders {
				// trailers
				continue
			}
			headers, err := c.decoder.DecodeFull(block)
			if err != nil {
				return events, fmt.Errorf("h3: failed to decode header block: %w", err)
			}
			if err := validateRequestHeaders(headers); err != nil {
				return events, fmt.Errorf("h3: %w", err)
			}
			s.sawHeaders = true
			events = append(events, &framing.RequestReceived{StreamID: id, Headers: headers})
		case recvDataPayload, recvSkipPayload:
			if s.frameLen == 0 {
				s.state = recvFrameHeader
				continue
			}
			if len(s.in) == 0 {
				break loop
			}
			isData := s.state == recvDataPayload
			n := s.frameLen
			if uint64(len(s.in)) < n {
				n = uint64(len(s.in))
			}
			chunk := s.in[:n]
			s.in = s.in[n:]
			s.frameLen -= n
			if s.frameLen == 0 {
				s.state = recvFrameHeader
			}
			if !isData {
				continue
			}
			data := make([]byte, n)
			copy(data, chunk)
			events = append(events, &framing.DataReceived{StreamID: id, Data: data})
		}
	}

	if fin {
		if s.state != recvFrameHeader || len(s.in) > 0 {
			return events, fmt.Errorf("h3: stream %d ended mid-frame", id)
		}
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

// HandleUniStream consumes an incoming unidirectional stream until EOF.
// Control and QPACK streams are drained; the dynamic table is not used, so
// their contents carry no state this implementation needs.
func (c *Conn) HandleUniStream(r io.Reader) error {
	br := bufio.NewReader(r)
	t, err := quicvarint.Read(br)
	if err != nil {
		return err
	}
	switch t {
	case streamTypeControl:
		ft, err := quicvarint.Read(br)
		if err != nil {
			return err
		}
		if ft != frameTypeSettings {
			return errors.New("h3: control stream did not start with SETTINGS")
		}
	case streamTypePush:
		return errors.New("h3: client opened a push stream")
	case streamTypeQPACKEncoder, streamTypeQPACKDecoder:
	default:
		// unknown stream types are ignored
	}
	_, err = io.Copy(io.Discard, br)
	return err
}

// SendHeaders queues a HEADERS frame for the given stream. Output reaches
// the transport on the next Flush.
func (c *Conn) SendHeaders(id quic.StreamID, headers []qpack.HeaderField) error {
	s, err := c.sendStream(id)
	if err != nil {
		return err
	}
	var block bytes.Buffer
	enc := qpack.NewEncoder(&block)
	for _, f := range headers {
		if err := enc.WriteField(f); err != nil {
			return fmt.Errorf("h3: failed to encode header field %s: %w", f.Name, err)
		}
	}
	buf := (&headersFrame{Length: uint64(block.Len())}).Append(nil)
	s.out.Write(buf)
	s.out.Write(block.Bytes())
	return nil
}

// SendData queues a DATA frame. An empty payload still produces a
// zero-length frame, which is how the end-of-stream marker is framed.
func (c *Conn) SendData(id quic.StreamID, p []byte, endStream bool) error {
	s, err := c.sendStream(id)
	if err != nil {
		return err
	}
	buf := (&dataFrame{Length: uint64(len(p))}).Append(nil)
	s.out.Write(buf)
	s.out.Write(p)
	if endStream {
		s.endStream = true
	}
	return nil
}

// Flush writes all queued output to the underlying streams and closes the
// send direction of streams marked ended. Closing the send side keeps the
// receive state: the peer may still be uploading, and its remaining frames
// must parse against the existing stream. State is released once both
// directions have finished. Calling Flush with nothing queued is a no-op.
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
		return nil, fmt.Errorf("h3: send on unknown stream %d", id)
	}
	if s.sendClosed {
		return nil, fmt.Errorf("h3: send on closed stream %d", id)
	}
	return s, nil
}
