package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/quic-go/qpack"

	"github.com/pgjones/h3serve"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>h3serve</title></head>
<body>
<h1>It works!</h1>
<p>Served over HTTP/3. Try <code>/echo</code>, <code>/8000</code> or a WebSocket to <code>/ws</code>.</p>
</body>
</html>
`

// app is the demo application: a few HTTP routes plus a WebSocket echo.
func app(ctx context.Context, scope *h3serve.Scope, receive h3serve.ReceiveFunc, send h3serve.SendFunc) error {
	if scope.Type == h3serve.ScopeWebSocket {
		return echoWebSocket(ctx, scope, receive, send)
	}
	return serveHTTP(ctx, scope, receive, send)
}

func serveHTTP(ctx context.Context, scope *h3serve.Scope, receive h3serve.ReceiveFunc, send h3serve.SendFunc) error {
	body, err := readBody(ctx, receive)
	if err != nil {
		return err
	}

	switch {
	case scope.Path == "/" || scope.Path == "/index.html":
		return respond(ctx, scope, send, 200, "text/html; charset=utf-8", []byte(indexHTML))
	case scope.Path == "/echo" && scope.Method == "POST":
		return respond(ctx, scope, send, 200, "application/octet-stream", body)
	default:
		// interop style: GET /<n> returns n bytes
		if n, err := strconv.Atoi(strings.TrimPrefix(scope.Path, "/")); err == nil && n >= 0 {
			const maxPayload = 50 << 20
			if n > maxPayload {
				n = maxPayload
			}
			return respond(ctx, scope, send, 200, "text/plain", bytes.Repeat([]byte("Z"), n))
		}
	}
	return respond(ctx, scope, send, 404, "text/plain", []byte(fmt.Sprintf("not found: %s\n", scope.Path)))
}

// readBody drains the request into one buffer.
func readBody(ctx context.Context, receive h3serve.ReceiveFunc) ([]byte, error) {
	var body []byte
	for {
		msg, err := receive(ctx)
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *h3serve.RequestBody:
			body = append(body, m.Body...)
			if !m.MoreBody {
				return body, nil
			}
		case *h3serve.RequestDisconnect:
			return body, nil
		default:
			return nil, fmt.Errorf("unexpected message %T while reading the request body", msg)
		}
	}
}

func respond(ctx context.Context, scope *h3serve.Scope, send h3serve.SendFunc, status int, contentType string, body []byte) error {
	headers := []qpack.HeaderField{{Name: "content-type", Value: contentType}}
	if enc, compressed := compress(scope, body); enc != "" {
		headers = append(headers, qpack.HeaderField{Name: "content-encoding", Value: enc})
		body = compressed
	}
	headers = append(headers, qpack.HeaderField{Name: "content-length", Value: strconv.Itoa(len(body))})
	if err := send(ctx, &h3serve.ResponseStart{Status: status, Headers: headers}); err != nil {
		return err
	}
	return send(ctx, &h3serve.ResponseBody{Body: body})
}

// compress encodes bodies worth compressing when the client offers brotli
// or gzip.
func compress(scope *h3serve.Scope, body []byte) (string, []byte) {
	const threshold = 512
	if len(body) < threshold {
		return "", nil
	}
	accept := scope.Header("accept-encoding")
	var buf bytes.Buffer
	switch {
	case strings.Contains(accept, "br"):
		w := brotli.NewWriter(&buf)
		w.Write(body)
		w.Close()
		return "br", buf.Bytes()
	case strings.Contains(accept, "gzip"):
		w := gzip.NewWriter(&buf)
		w.Write(body)
		w.Close()
		return "gzip", buf.Bytes()
	}
	return "", nil
}

// echoWebSocket accepts the session, echoing the first offered sub-protocol,
// and mirrors every message back until the peer disconnects.
func echoWebSocket(ctx context.Context, scope *h3serve.Scope, receive h3serve.ReceiveFunc, send h3serve.SendFunc) error {
	for {
		msg, err := receive(ctx)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *h3serve.WebSocketConnect:
			accept := &h3serve.WebSocketAccept{}
			if len(scope.Subprotocols) > 0 {
				accept.Subprotocol = scope.Subprotocols[0]
			}
			if err := send(ctx, accept); err != nil {
				return err
			}
		case *h3serve.WebSocketReceive:
			if err := send(ctx, &h3serve.WebSocketSend{Text: m.Text, Bytes: m.Bytes}); err != nil {
				return err
			}
		case *h3serve.WebSocketDisconnect:
			return nil
		default:
			return fmt.Errorf("unexpected message %T on websocket stream", msg)
		}
	}
}
