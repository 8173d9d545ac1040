// Package wscodec is the WebSocket wire codec used for sessions bootstrapped
// over extended CONNECT. It wraps gobwas/ws with incremental decoding: the
// transport delivers arbitrary chunks, the codec buffers them and yields
// complete messages.
package wscodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gobwas/ws"
)

// Event is a decoded WebSocket-level event. The set is closed: Text,
// Binary and Close.
type Event interface {
	wsEvent()
}

type Text struct {
	Data string
}

type Binary struct {
	Data []byte
}

type Close struct {
	Code int
}

func (*Text) wsEvent()   {}
func (*Binary) wsEvent() {}
func (*Close) wsEvent()  {}

// A Codec decodes client frames and encodes server frames for one session.
// Server frames are never masked; client payloads are unmasked on decode.
type Codec struct {
	in     bytes.Buffer
	fragOp ws.OpCode
	frag   bytes.Buffer
}

func New() *Codec {
	return &Codec{}
}

// Decode buffers p and returns every event completed by it, in wire order.
// Fragmented messages are reassembled; ping and pong frames are dropped.
func (c *Codec) Decode(p []byte) ([]Event, error) {
	c.in.Write(p)
	var events []Event
	for {
		r := bytes.NewReader(c.in.Bytes())
		hdr, err := ws.ReadHeader(r)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return events, fmt.Errorf("wscodec: %w", err)
		}
		if int64(r.Len()) < hdr.Length {
			break
		}
		payload := make([]byte, hdr.Length)
		io.ReadFull(r, payload)
		c.in.Next(c.in.Len() - r.Len())
		if hdr.Masked {
			ws.Cipher(payload, hdr.Mask, 0)
		}

		switch hdr.OpCode {
		case ws.OpText, ws.OpBinary:
			if !hdr.Fin {
				c.fragOp = hdr.OpCode
				c.frag.Write(payload)
				continue
			}
			events = append(events, messageEvent(hdr.OpCode, payload))
		case ws.OpContinuation:
			if c.fragOp == 0 {
				return events, fmt.Errorf("wscodec: continuation frame without a message in progress")
			}
			c.frag.Write(payload)
			if !hdr.Fin {
				continue
			}
			full := make([]byte, c.frag.Len())
			copy(full, c.frag.Bytes())
			events = append(events, messageEvent(c.fragOp, full))
			c.fragOp = 0
			c.frag.Reset()
		case ws.OpClose:
			code := int(ws.StatusNoStatusRcvd)
			if len(payload) >= 2 {
				st, _ := ws.ParseCloseFrameData(payload)
				code = int(st)
			}
			events = append(events, &Close{Code: code})
		case ws.OpPing, ws.OpPong:
			// no keepalive over a QUIC stream
		default:
			return events, fmt.Errorf("wscodec: unexpected opcode %x", hdr.OpCode)
		}
	}
	return events, nil
}

func messageEvent(op ws.OpCode, payload []byte) Event {
	if op == ws.OpText {
		return &Text{Data: string(payload)}
	}
	return &Binary{Data: payload}
}

// EncodeText returns one unmasked text frame.
func (c *Codec) EncodeText(s string) []byte {
	return encodeFrame(ws.NewTextFrame([]byte(s)))
}

// EncodeBinary returns one unmasked binary frame.
func (c *Codec) EncodeBinary(p []byte) []byte {
	return encodeFrame(ws.NewBinaryFrame(p))
}

// EncodeClose returns one close frame carrying the given status code.
func (c *Codec) EncodeClose(code int) []byte {
	return encodeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), "")))
}

func encodeFrame(f ws.Frame) []byte {
	var b bytes.Buffer
	ws.WriteFrame(&b, f)
	return b.Bytes()
}
