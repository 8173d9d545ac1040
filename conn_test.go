package h3serve

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/pgjones/h3serve/internal/framing"
	"github.com/pgjones/h3serve/internal/h0"
	"github.com/pgjones/h3serve/internal/h3"
	"github.com/pgjones/h3serve/internal/tests"
)

type fakeStream struct {
	id     quic.StreamID
	buf    bytes.Buffer
	closed bool
}

func (s *fakeStream) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *fakeStream) Close() error                { s.closed = true; return nil }
func (s *fakeStream) StreamID() quic.StreamID     { return s.id }

type sentHeaders struct {
	id      quic.StreamID
	headers []qpack.HeaderField
}

type sentData struct {
	id        quic.StreamID
	data      []byte
	endStream bool
}

// fakeFraming records the send side and replays test-queued events from
// HandleStreamData. All calls happen under conn.mu, matching the real
// framing variants.
type fakeFraming struct {
	queued        []framing.Event
	headers       []sentHeaders
	data          []sentData
	flushes       int
	closedStreams []quic.StreamID
}

func (f *fakeFraming) queue(evs ...framing.Event) { f.queued = append(f.queued, evs...) }

func (f *fakeFraming) HandleStreamData(str framing.Stream, p []byte, fin bool) ([]framing.Event, error) {
	evs := f.queued
	f.queued = nil
	return evs, nil
}

func (f *fakeFraming) HandleUniStream(r io.Reader) error { return nil }

func (f *fakeFraming) SendHeaders(id quic.StreamID, headers []qpack.HeaderField) error {
	f.headers = append(f.headers, sentHeaders{id: id, headers: headers})
	return nil
}

func (f *fakeFraming) SendData(id quic.StreamID, p []byte, endStream bool) error {
	data := make([]byte, len(p))
	copy(data, p)
	f.data = append(f.data, sentData{id: id, data: data, endStream: endStream})
	return nil
}

func (f *fakeFraming) Flush() error { f.flushes++; return nil }

func (f *fakeFraming) CloseStream(id quic.StreamID) { f.closedStreams = append(f.closedStreams, id) }

func (f *fakeFraming) Proto() string { return "3" }

func newTestConn(app Application) (*conn, *fakeFraming) {
	f := &fakeFraming{}
	c := newConn(nil, app, &disableLogger{})
	c.framing = f
	return c, f
}

func (c *conn) handlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// snapshot of the recorded send side, taken under conn.mu so it
// synchronizes with bridge goroutines.
func (c *conn) recorded(f *fakeFraming) ([]sentHeaders, []sentData, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentHeaders(nil), f.headers...), append([]sentData(nil), f.data...), f.flushes
}

func requestHeaderFields(method, path string) []qpack.HeaderField {
	return []qpack.HeaderField{
		{Name: ":method", Value: method},
		{Name: ":path", Value: path},
		{Name: ":authority", Value: "example.com"},
	}
}

func waitRecordedHeaders(c *conn, f *fakeFraming) bool {
	return tests.WaitCondition(time.Second, time.Millisecond, func() bool {
		headers, _, _ := c.recorded(f)
		return len(headers) > 0
	})
}

func waitHandlersGone(t *testing.T, c *conn) {
	t.Helper()
	if !tests.WaitCondition(time.Second, time.Millisecond, func() bool { return c.handlerCount() == 0 }) {
		t.Fatal("handler was not deregistered")
	}
}

func TestDuplicateRequestEventIgnored(t *testing.T) {
	var mu sync.Mutex
	invocations := 0
	release := make(chan struct{})
	app := func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		mu.Lock()
		invocations++
		mu.Unlock()
		<-release
		return nil
	}
	c, f := newTestConn(app)
	str := &fakeStream{id: 0}

	f.queue(&framing.RequestReceived{StreamID: 0, Headers: requestHeaderFields("GET", "/")})
	c.handleStreamData(str, nil, false)
	f.queue(&framing.RequestReceived{StreamID: 0, Headers: requestHeaderFields("GET", "/")})
	c.handleStreamData(str, nil, false)

	tests.WaitCondition(100*time.Millisecond, time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return invocations > 1
	})
	mu.Lock()
	tests.AssertEqual(t, 1, invocations)
	mu.Unlock()
	tests.AssertEqual(t, 1, c.handlerCount())
	close(release)
	waitHandlersGone(t, c)
}

func TestDataForUnknownStreamDropped(t *testing.T) {
	app := func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		t.Error("application must not run for data on an unknown stream")
		return nil
	}
	c, f := newTestConn(app)
	str := &fakeStream{id: 4}

	f.queue(&framing.DataReceived{StreamID: 4, Data: []byte("late")})
	c.handleStreamData(str, []byte("late"), false)
	tests.AssertEqual(t, 0, c.handlerCount())
}

func TestFlushOncePerHandlingStep(t *testing.T) {
	done := make(chan struct{})
	app := func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		defer close(done)
		for {
			msg, err := receive(ctx)
			if err != nil {
				return err
			}
			if b, ok := msg.(*RequestBody); ok && !b.MoreBody {
				return nil
			}
		}
	}
	c, f := newTestConn(app)
	str := &fakeStream{id: 0}

	f.queue(&framing.RequestReceived{StreamID: 0, Headers: requestHeaderFields("GET", "/")})
	c.handleStreamData(str, nil, false)
	f.queue(&framing.DataReceived{StreamID: 0, Data: []byte("a")})
	c.handleStreamData(str, []byte("a"), false)
	f.queue(&framing.DataReceived{StreamID: 0, StreamEnded: true})
	c.handleStreamData(str, nil, true)
	<-done
	waitHandlersGone(t, c)

	_, _, flushes := c.recorded(f)
	// one flush per handling step plus one for the end-of-stream marker
	tests.AssertEqual(t, 4, flushes)
}

func TestNegotiationFirstWins(t *testing.T) {
	c := newConn(nil, nil, &disableLogger{})
	c.openUni = func() (io.Writer, error) { return &bytes.Buffer{}, nil }

	c.negotiate(NextProtoH3)
	if _, ok := c.framing.(*h3.Conn); !ok {
		t.Fatalf("expected the h3 variant, got %T", c.framing)
	}
	c.negotiate(NextProtoHQ)
	if _, ok := c.framing.(*h3.Conn); !ok {
		t.Errorf("renegotiation changed the framing variant to %T", c.framing)
	}
}

func TestNegotiationLegacyFirstWins(t *testing.T) {
	c := newConn(nil, nil, &disableLogger{})
	c.openUni = func() (io.Writer, error) { return &bytes.Buffer{}, nil }

	c.negotiate(NextProtoHQ)
	if _, ok := c.framing.(*h0.Conn); !ok {
		t.Fatalf("expected the h0 variant, got %T", c.framing)
	}
	c.negotiate(NextProtoH3)
	if _, ok := c.framing.(*h0.Conn); !ok {
		t.Errorf("renegotiation changed the framing variant to %T", c.framing)
	}
}

func TestNegotiationUnknownProtocol(t *testing.T) {
	c := newConn(nil, nil, &disableLogger{})
	err := c.negotiate("h2")
	tests.AssertErrorContains(t, err, "unsupported application protocol")
	tests.AssertIsNil(t, c.framing)
}

func TestNegotiationControlStreamFailure(t *testing.T) {
	c := newConn(nil, nil, &disableLogger{})
	c.openUni = func() (io.Writer, error) { return nil, errors.New("too many streams") }

	err := c.negotiate(NextProtoH3)
	tests.AssertErrorContains(t, err, "control stream")
	tests.AssertErrorContains(t, err, "too many streams")
	tests.AssertIsNil(t, c.framing)
}

func encodeHeadersFrame(fields []qpack.HeaderField) []byte {
	var block bytes.Buffer
	enc := qpack.NewEncoder(&block)
	for _, f := range fields {
		enc.WriteField(f)
	}
	b := quicvarint.Append(nil, 0x1)
	b = quicvarint.Append(b, uint64(block.Len()))
	return append(b, block.Bytes()...)
}

func encodeDataFrame(p []byte) []byte {
	b := quicvarint.Append(nil, 0x0)
	b = quicvarint.Append(b, uint64(len(p)))
	return append(b, p...)
}

// An early response must not poison the connection for a client that keeps
// uploading: late body chunks are dropped, not escalated.
func TestLateBodyAfterEarlyResponse(t *testing.T) {
	app := func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		return send(ctx, &ResponseStart{Status: 404})
	}
	c := newConn(nil, app, &disableLogger{})
	c.framing = h3.NewConn()
	str := &fakeStream{id: 0}

	wire := encodeHeadersFrame(requestHeaderFields("POST", "/upload"))
	wire = append(wire, encodeDataFrame([]byte("part1 "))...)
	if !c.handleStreamData(str, wire, false) {
		t.Fatal("request with a partial body broke the connection")
	}
	waitHandlersGone(t, c)
	tests.AssertEqual(t, true, str.closed)

	if !c.handleStreamData(str, encodeDataFrame([]byte("part2 of body")), false) {
		t.Fatal("late body chunk was treated as a protocol violation")
	}
	if !c.handleStreamData(str, nil, true) {
		t.Fatal("stream fin after the response was treated as a protocol violation")
	}
}

// Same scenario on the legacy framing: late body bytes must stay body
// bytes, never a second request on a retired stream identifier.
func TestLegacyLateBodyAfterEarlyResponse(t *testing.T) {
	var mu sync.Mutex
	invocations := 0
	app := func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		mu.Lock()
		invocations++
		mu.Unlock()
		return send(ctx, &ResponseBody{Body: []byte("done")})
	}
	c := newConn(nil, app, &disableLogger{})
	c.framing = h0.NewConn()
	str := &fakeStream{id: 0}

	if !c.handleStreamData(str, []byte("POST /upload\r\npart1 "), false) {
		t.Fatal("request with a partial body broke the connection")
	}
	waitHandlersGone(t, c)

	if !c.handleStreamData(str, []byte("part2 of body\r\n"), false) {
		t.Fatal("late body bytes broke the connection")
	}
	tests.WaitCondition(50*time.Millisecond, time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return invocations > 1
	})
	mu.Lock()
	tests.AssertEqual(t, 1, invocations)
	mu.Unlock()
	tests.AssertEqual(t, 0, c.handlerCount())
}

func TestStreamResetReleasesFramingState(t *testing.T) {
	app := func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		_, err := receive(ctx)
		return err
	}
	c, f := newTestConn(app)
	str := &fakeStream{id: 8}

	f.queue(&framing.RequestReceived{StreamID: 8, Headers: requestHeaderFields("GET", "/")})
	c.handleStreamData(str, nil, false)
	c.streamReset(8)
	waitHandlersGone(t, c)

	c.mu.Lock()
	closed := append([]quic.StreamID(nil), f.closedStreams...)
	c.mu.Unlock()
	tests.AssertEqual(t, []quic.StreamID{8}, closed)
}

func TestTeardownReleasesFramingState(t *testing.T) {
	app := func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		_, err := receive(ctx)
		return err
	}
	c, f := newTestConn(app)
	str := &fakeStream{id: 4}

	f.queue(&framing.RequestReceived{StreamID: 4, Headers: requestHeaderFields("GET", "/")})
	c.handleStreamData(str, nil, false)
	c.teardown()
	waitHandlersGone(t, c)

	c.mu.Lock()
	closed := append([]quic.StreamID(nil), f.closedStreams...)
	c.mu.Unlock()
	tests.AssertEqual(t, []quic.StreamID{4}, closed)
}

func TestStreamResetResolvesReceive(t *testing.T) {
	got := make(chan InboundMessage, 1)
	app := func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error {
		msg, err := receive(ctx)
		if err != nil {
			return err
		}
		got <- msg
		return nil
	}
	c, f := newTestConn(app)
	str := &fakeStream{id: 8}

	f.queue(&framing.RequestReceived{StreamID: 8, Headers: requestHeaderFields("GET", "/")})
	c.handleStreamData(str, nil, false)
	c.streamReset(8)

	select {
	case msg := <-got:
		if _, ok := msg.(*RequestDisconnect); !ok {
			t.Errorf("expected a disconnect message, got %T", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("receive stayed suspended after the stream reset")
	}
}
