/*
Package h3serve is an HTTP/3 server that hands every request stream to a
pluggable application callback instead of an http.Handler. Each stream of a
QUIC connection becomes either an HTTP request/response exchange or, via
extended CONNECT, a bidirectional WebSocket session; the application
consumes a mailbox of inbound messages and produces outbound messages:

	app := func(ctx context.Context, scope *h3serve.Scope, receive h3serve.ReceiveFunc, send h3serve.SendFunc) error {
		send(ctx, &h3serve.ResponseStart{Status: 200})
		return send(ctx, &h3serve.ResponseBody{Body: []byte("hello")})
	}

	srv := &h3serve.Server{
		Addr:      ":4433",
		App:       app,
		TLSConfig: tlsConf,
		Tickets:   h3serve.NewTicketStore(),
	}
	srv.ListenAndServe()
*/
package h3serve
