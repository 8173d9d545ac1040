package h3serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"

	"github.com/pgjones/h3serve/internal/framing"
	"github.com/pgjones/h3serve/internal/h0"
	"github.com/pgjones/h3serve/internal/h3"
)

// handler is one active stream: either a request handler or a WebSocket
// handler.
type handler interface {
	// frameReceived forwards a framing event to the handler. The caller
	// holds conn.mu.
	frameReceived(ev framing.Event)
	// run drives the application bridge and returns when the callback and
	// the closing sequence have finished.
	run(ctx context.Context) error
	// abort resolves a suspended receive after a stream reset.
	abort()
}

// A conn dispatches all transport events of one QUIC connection. It owns
// the stream table and the negotiated framing variant; handlers never see
// each other. conn.mu serializes the framing layer and the stream table, so
// streams progress independently while per-stream order is preserved by the
// single reader goroutine per stream.
type conn struct {
	qc     *quic.Conn
	app    Application
	logger Logger
	ctx    context.Context

	openUni func() (io.Writer, error)

	mu       sync.Mutex
	framing  framing.Conn
	handlers map[quic.StreamID]handler
}

func newConn(qc *quic.Conn, app Application, logger Logger) *conn {
	c := &conn{
		qc:       qc,
		app:      app,
		logger:   logger,
		ctx:      context.Background(),
		handlers: make(map[quic.StreamID]handler),
	}
	if qc != nil {
		c.openUni = func() (io.Writer, error) {
			str, err := qc.OpenUniStream()
			if err != nil {
				return nil, err
			}
			return str, nil
		}
	}
	return c
}

func (c *conn) run(ctx context.Context) {
	c.ctx = ctx
	proto := c.qc.ConnectionState().TLS.NegotiatedProtocol
	if err := c.negotiate(proto); err != nil {
		c.logger.Warnf("%v: %v", c.qc.RemoteAddr(), err)
		c.qc.CloseWithError(quic.ApplicationErrorCode(h3.ErrCodeNoError), err.Error())
		return
	}

	go c.acceptUniStreams(ctx)
	for {
		str, err := c.qc.AcceptStream(ctx)
		if err != nil {
			c.teardown()
			return
		}
		go c.readStream(str)
	}
}

// negotiate selects the framing variant for the connection. The first
// negotiation wins; later calls are ignored. It must complete before any
// stream event is processed. An unsupported ALPN and a control-stream
// setup failure are distinct errors.
func (c *conn) negotiate(proto string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.framing != nil {
		return nil
	}
	switch proto {
	case NextProtoH3:
		fc := h3.NewConn()
		ctrl, err := c.openUni()
		if err != nil {
			return fmt.Errorf("failed to open the control stream: %w", err)
		}
		if err := fc.Start(ctrl); err != nil {
			return fmt.Errorf("failed to write SETTINGS: %w", err)
		}
		c.framing = fc
	case NextProtoHQ:
		c.framing = h0.NewConn()
	default:
		return fmt.Errorf("unsupported application protocol %q", proto)
	}
	return nil
}

func (c *conn) acceptUniStreams(ctx context.Context) {
	for {
		str, err := c.qc.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go func() {
			if err := c.framing.HandleUniStream(str); err != nil {
				c.logger.Debugf("unidirectional stream: %v", err)
			}
		}()
	}
}

func (c *conn) readStream(str *quic.Stream) {
	buf := make([]byte, 16<<10)
	for {
		n, err := str.Read(buf)
		fin := errors.Is(err, io.EOF)
		if n > 0 || fin {
			if !c.handleStreamData(str, buf[:n], fin) {
				return
			}
		}
		if err != nil {
			if !fin {
				c.streamReset(str.StreamID())
			}
			return
		}
	}
}

// handleStreamData is the single entry point for stream bytes: it feeds the
// framing layer, dispatches the events it yields in order, and ends the
// handling step with exactly one flush. It reports whether the connection
// is still usable.
func (c *conn) handleStreamData(str framing.Stream, p []byte, fin bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.framing == nil {
		return false
	}
	events, err := c.framing.HandleStreamData(str, p, fin)
	for _, ev := range events {
		c.dispatchLocked(ev)
	}
	if err != nil {
		c.logger.Errorf("stream %d: %v", str.StreamID(), err)
		if c.qc != nil {
			c.qc.CloseWithError(quic.ApplicationErrorCode(h3.ErrCodeGeneralProtocol), "protocol violation")
		}
		return false
	}
	if err := c.framing.Flush(); err != nil {
		c.logger.Debugf("flush: %v", err)
	}
	return true
}

// dispatchLocked routes one framing event. A request-initiated event on a
// known stream is a duplicate and is dropped; a data event on an unknown
// stream raced closure and is dropped.
func (c *conn) dispatchLocked(ev framing.Event) {
	switch ev := ev.(type) {
	case *framing.RequestReceived:
		if _, ok := c.handlers[ev.StreamID]; ok {
			return
		}
		scope := newScope(ev.Headers, c.framing.Proto())
		var h handler
		if scope.Type == ScopeWebSocket {
			h = newWebSocketHandler(c, scope, ev.StreamID)
		} else {
			h = newRequestHandler(c, scope, ev.StreamID)
		}
		c.handlers[ev.StreamID] = h
		go c.runBridge(ev.StreamID, h)
	case *framing.DataReceived:
		h, ok := c.handlers[ev.StreamID]
		if !ok {
			return
		}
		h.frameReceived(ev)
	}
}

// runBridge runs one handler's application bridge to completion and
// deregisters it, whether the callback succeeded or failed.
func (c *conn) runBridge(id quic.StreamID, h handler) {
	err := h.run(c.ctx)
	c.mu.Lock()
	delete(c.handlers, id)
	c.mu.Unlock()
	if err != nil {
		c.logger.Errorf("application error on stream %d: %v", id, err)
	}
}

// streamReset drops the stream from the table after an abrupt reset,
// releases its framing state and unblocks its application task.
func (c *conn) streamReset(id quic.StreamID) {
	c.mu.Lock()
	h, ok := c.handlers[id]
	delete(c.handlers, id)
	if c.framing != nil {
		c.framing.CloseStream(id)
	}
	c.mu.Unlock()
	if ok {
		h.abort()
	}
}

func (c *conn) teardown() {
	c.mu.Lock()
	handlers := make([]handler, 0, len(c.handlers))
	for id, h := range c.handlers {
		handlers = append(handlers, h)
		delete(c.handlers, id)
		if c.framing != nil {
			c.framing.CloseStream(id)
		}
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h.abort()
	}
}

const serverName = "h3serve"

// responseHeaders builds the mandatory response header prefix: :status,
// server and an RFC 1123 date, followed by the caller's headers.
func responseHeaders(status int, extra []qpack.HeaderField) []qpack.HeaderField {
	fields := []qpack.HeaderField{
		{Name: ":status", Value: strconv.Itoa(status)},
		{Name: "server", Value: serverName},
		{Name: "date", Value: time.Now().UTC().Format(http.TimeFormat)},
	}
	return append(fields, extra...)
}
