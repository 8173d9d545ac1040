package h3serve

import (
	"context"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/pgjones/h3serve/internal/framing"
)

// A requestHandler bridges one HTTP request/response exchange to the
// application callback. Inbound data events become RequestBody messages in
// arrival order; outbound messages become header and data frames in send
// order.
type requestHandler struct {
	conn     *conn
	scope    *Scope
	streamID quic.StreamID
	mailbox  *mailbox
}

func newRequestHandler(c *conn, scope *Scope, id quic.StreamID) *requestHandler {
	return &requestHandler{
		conn:     c,
		scope:    scope,
		streamID: id,
		mailbox:  newMailbox(),
	}
}

func (h *requestHandler) frameReceived(ev framing.Event) {
	if d, ok := ev.(*framing.DataReceived); ok {
		h.mailbox.put(&RequestBody{Body: d.Data, MoreBody: !d.StreamEnded})
	}
}

// run invokes the application callback. On clean return it ends the stream
// with an empty data frame; on error it propagates without the end marker
// and leaves the connection dispatcher to decide the stream's fate.
func (h *requestHandler) run(ctx context.Context) error {
	if err := h.conn.app(ctx, h.scope, h.receive, h.send); err != nil {
		return err
	}

	c := h.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.framing == nil {
		return nil
	}
	if err := c.framing.SendData(h.streamID, nil, true); err != nil {
		return err
	}
	return c.framing.Flush()
}

func (h *requestHandler) receive(ctx context.Context) (InboundMessage, error) {
	return h.mailbox.get(ctx)
}

func (h *requestHandler) send(ctx context.Context, msg OutboundMessage) error {
	c := h.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.framing == nil {
		return fmt.Errorf("h3serve: send on a closed connection")
	}
	switch m := msg.(type) {
	case *ResponseStart:
		if err := c.framing.SendHeaders(h.streamID, responseHeaders(m.Status, m.Headers)); err != nil {
			return err
		}
	case *ResponseBody:
		if err := c.framing.SendData(h.streamID, m.Body, false); err != nil {
			return err
		}
	default:
		return fmt.Errorf("h3serve: message %T is not valid on an http stream", msg)
	}
	return c.framing.Flush()
}

func (h *requestHandler) abort() {
	h.mailbox.close(&RequestDisconnect{})
}
