package h3serve

import (
	"context"

	"github.com/quic-go/qpack"
)

// InboundMessage is a message delivered to the application through its
// receive callable. The set is closed: RequestBody, WebSocketConnect,
// WebSocketReceive and WebSocketDisconnect.
type InboundMessage interface {
	inboundMessage()
}

// RequestBody carries a chunk of request body on an HTTP stream. MoreBody
// is false on the final chunk.
type RequestBody struct {
	Body     []byte
	MoreBody bool
}

// WebSocketConnect is the first message every WebSocket application
// observes, enqueued before any data arrives.
type WebSocketConnect struct{}

// WebSocketReceive carries one WebSocket message. Exactly one of Text and
// Bytes is meaningful: Bytes is non-nil for binary messages.
type WebSocketReceive struct {
	Text  string
	Bytes []byte
}

// WebSocketDisconnect reports that the peer closed the session, or that the
// stream was reset underneath it.
type WebSocketDisconnect struct {
	Code int
}

// RequestDisconnect reports that an HTTP stream was reset before the
// application finished consuming it.
type RequestDisconnect struct{}

func (*RequestBody) inboundMessage()         {}
func (*WebSocketConnect) inboundMessage()    {}
func (*WebSocketReceive) inboundMessage()    {}
func (*WebSocketDisconnect) inboundMessage() {}
func (*RequestDisconnect) inboundMessage()   {}

// OutboundMessage is a message the application pushes through its send
// callable. The set is closed: ResponseStart, ResponseBody,
// WebSocketAccept, WebSocketSend and WebSocketClose.
type OutboundMessage interface {
	outboundMessage()
}

// ResponseStart emits the response headers. It must be sent exactly once,
// before any ResponseBody.
type ResponseStart struct {
	Status  int
	Headers []qpack.HeaderField
}

// ResponseBody emits a chunk of response body. The stream is only ended
// when the application callback returns.
type ResponseBody struct {
	Body []byte
}

// WebSocketAccept completes the upgrade with a 200 response. Subprotocol,
// when non-empty, is echoed in the sec-websocket-protocol header.
type WebSocketAccept struct {
	Subprotocol string
}

// WebSocketSend emits one WebSocket message; a non-nil Bytes selects a
// binary frame, otherwise Text is sent as a text frame.
type WebSocketSend struct {
	Text  string
	Bytes []byte
}

// WebSocketClose closes the session with the given code. Closing an
// already-closed session is a no-op.
type WebSocketClose struct {
	Code int
}

func (*ResponseStart) outboundMessage()   {}
func (*ResponseBody) outboundMessage()    {}
func (*WebSocketAccept) outboundMessage() {}
func (*WebSocketSend) outboundMessage()   {}
func (*WebSocketClose) outboundMessage()  {}

// ReceiveFunc dequeues the next inbound message, suspending the calling
// goroutine until one is available. It is the application's sole suspension
// point.
type ReceiveFunc func(ctx context.Context) (InboundMessage, error)

// SendFunc pushes one outbound message. Every send flushes queued frames to
// the transport.
type SendFunc func(ctx context.Context, msg OutboundMessage) error

// Application is the callback driving one stream: an HTTP request/response
// exchange or a WebSocket session, depending on the scope type. An error
// return propagates to the connection dispatcher.
type Application func(ctx context.Context, scope *Scope, receive ReceiveFunc, send SendFunc) error
