package h3serve

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// Application protocols negotiated via ALPN. NextProtoH3 selects the full
// HTTP/3 framing, NextProtoHQ the minimal HTTP/0.9 style framing.
const (
	NextProtoH3 = "h3"
	NextProtoHQ = "hq-interop"
)

// A Server serves an Application over QUIC, one connection dispatcher per
// accepted connection. The zero value is not usable; at minimum App and
// TLSConfig must be set.
type Server struct {
	// Addr is the UDP address to listen on, ":4433" if empty.
	Addr string

	// App is the application callback driving every stream.
	App Application

	// TLSConfig must carry the server certificate. It is cloned; ALPN and
	// session-ticket wiring are filled in.
	TLSConfig *tls.Config

	// QUICConfig optionally tunes the transport.
	QUICConfig *quic.Config

	// Tickets, when set, enables stateful session resumption.
	Tickets *TicketStore

	// StatelessRetry makes the transport verify source addresses with a
	// retry before accepting new connections.
	StatelessRetry bool

	// Logger defaults to a std-log logger on stderr.
	Logger Logger

	mu       sync.Mutex
	listener *quic.Listener
	closed   bool
}

// ListenAndServe binds the UDP socket and serves until Close.
func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = ":4433"
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer udpConn.Close()

	tr := &quic.Transport{Conn: udpConn}
	if s.StatelessRetry {
		tr.VerifySourceAddress = func(net.Addr) bool { return true }
	}
	defer tr.Close()

	ln, err := tr.Listen(s.tlsConfig(), s.QUICConfig)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until Close or a fatal accept error.
func (s *Server) Serve(ln *quic.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("h3serve: server closed")
	}
	s.listener = ln
	s.mu.Unlock()

	logger := s.logger()
	ctx := context.Background()
	for {
		qc, err := ln.Accept(ctx)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		logger.Debugf("connection from %v", qc.RemoteAddr())
		go newConn(qc, s.App, logger).run(ctx)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) tlsConfig() *tls.Config {
	conf := s.TLSConfig.Clone()
	conf.NextProtos = []string{NextProtoH3, NextProtoHQ}
	if s.Tickets != nil {
		conf.WrapSession = s.Tickets.wrapSession
		conf.UnwrapSession = s.Tickets.unwrapSession
	}
	return conf
}

func (s *Server) logger() Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return createLogger()
}
