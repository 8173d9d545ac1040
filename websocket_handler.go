package h3serve

import (
	"context"
	"fmt"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"

	"github.com/pgjones/h3serve/internal/framing"
	"github.com/pgjones/h3serve/internal/wscodec"
)

const closeCodeNormal = 1000

// A webSocketHandler bridges one upgraded WebSocket session to the
// application callback. The session's wire framing is delegated to the
// ws-codec; the handler only translates between codec events and mailbox
// messages.
type webSocketHandler struct {
	conn     *conn
	scope    *Scope
	streamID quic.StreamID
	mailbox  *mailbox

	// codec and closed are guarded by conn.mu.
	codec  *wscodec.Codec
	closed bool
}

func newWebSocketHandler(c *conn, scope *Scope, id quic.StreamID) *webSocketHandler {
	h := &webSocketHandler{
		conn:     c,
		scope:    scope,
		streamID: id,
		mailbox:  newMailbox(),
	}
	// the application always observes a connect event first
	h.mailbox.put(&WebSocketConnect{})
	return h
}

func (h *webSocketHandler) frameReceived(ev framing.Event) {
	d, ok := ev.(*framing.DataReceived)
	if !ok {
		return
	}
	if h.codec == nil {
		// data before the session was accepted
		h.conn.logger.Debugf("dropping %d bytes on unaccepted websocket stream %d", len(d.Data), h.streamID)
		return
	}
	events, err := h.codec.Decode(d.Data)
	for _, wev := range events {
		switch wev := wev.(type) {
		case *wscodec.Text:
			h.mailbox.put(&WebSocketReceive{Text: wev.Data})
		case *wscodec.Binary:
			h.mailbox.put(&WebSocketReceive{Bytes: wev.Data})
		case *wscodec.Close:
			h.mailbox.put(&WebSocketDisconnect{Code: wev.Code})
		}
	}
	if err != nil {
		h.conn.logger.Errorf("websocket stream %d: %v", h.streamID, err)
	}
}

// run invokes the application callback; whether it returns or fails, a
// session that was accepted but never closed is closed with code 1000, so
// every opened session closes exactly once.
func (h *webSocketHandler) run(ctx context.Context) error {
	err := h.conn.app(ctx, h.scope, h.receive, h.send)

	h.conn.mu.Lock()
	needClose := h.codec != nil && !h.closed
	h.conn.mu.Unlock()
	if needClose {
		if cerr := h.send(ctx, &WebSocketClose{Code: closeCodeNormal}); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (h *webSocketHandler) receive(ctx context.Context) (InboundMessage, error) {
	return h.mailbox.get(ctx)
}

func (h *webSocketHandler) send(ctx context.Context, msg OutboundMessage) error {
	c := h.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.framing == nil {
		return fmt.Errorf("h3serve: send on a closed connection")
	}

	var data []byte
	endStream := false
	switch m := msg.(type) {
	case *WebSocketAccept:
		h.codec = wscodec.New()
		headers := responseHeaders(200, nil)
		if m.Subprotocol != "" {
			headers = append(headers, qpack.HeaderField{Name: "sec-websocket-protocol", Value: m.Subprotocol})
		}
		if err := c.framing.SendHeaders(h.streamID, headers); err != nil {
			return err
		}
	case *WebSocketClose:
		if h.codec == nil {
			return fmt.Errorf("h3serve: close before accept on websocket stream %d", h.streamID)
		}
		if h.closed {
			return c.framing.Flush()
		}
		data = h.codec.EncodeClose(m.Code)
		endStream = true
	case *WebSocketSend:
		if h.codec == nil {
			return fmt.Errorf("h3serve: send before accept on websocket stream %d", h.streamID)
		}
		if m.Bytes != nil {
			data = h.codec.EncodeBinary(m.Bytes)
		} else {
			data = h.codec.EncodeText(m.Text)
		}
	default:
		return fmt.Errorf("h3serve: message %T is not valid on a websocket stream", msg)
	}

	if len(data) > 0 {
		if err := c.framing.SendData(h.streamID, data, endStream); err != nil {
			return err
		}
	}
	if endStream {
		h.closed = true
	}
	return c.framing.Flush()
}

func (h *webSocketHandler) abort() {
	h.mailbox.close(&WebSocketDisconnect{Code: closeCodeNormal})
}
