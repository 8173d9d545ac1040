// Command h3serve runs the demo application over HTTP/3.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
	"github.com/quic-go/quic-go/qlog"

	"github.com/pgjones/h3serve"
)

func main() {
	var (
		certFile   = flag.String("c", "", "load the TLS certificate from the specified file")
		keyFile    = flag.String("k", "", "load the TLS private key from the specified file")
		host       = flag.String("host", "::", "listen on the specified address")
		port       = flag.Int("port", 4433, "listen on the specified port")
		secretsLog = flag.String("l", "", "log TLS secrets to a file, for use with Wireshark")
		qlogDir    = flag.String("q", "", "write per-connection QUIC event logs to the specified directory")
		retry      = flag.Bool("r", false, "send a stateless retry for new connections")
		verbose    = flag.Bool("v", false, "increase logging verbosity")
	)
	flag.Parse()
	if *certFile == "" || *keyFile == "" {
		fmt.Fprintln(os.Stderr, "both -c and -k are required")
		flag.Usage()
		os.Exit(2)
	}

	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		log.Fatalf("failed to load certificate: %v", err)
	}
	tlsConf := &tls.Config{Certificates: []tls.Certificate{cert}}
	if *secretsLog != "" {
		f, err := os.OpenFile(*secretsLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			log.Fatalf("failed to open secrets log: %v", err)
		}
		defer f.Close()
		tlsConf.KeyLogWriter = f
	}

	var quicConf *quic.Config
	if *qlogDir != "" {
		dir := *qlogDir
		quicConf = &quic.Config{
			Tracer: func(ctx context.Context, p logging.Perspective, ci quic.ConnectionID) *logging.ConnectionTracer {
				name := filepath.Join(dir, fmt.Sprintf("server_%s.qlog", ci))
				f, err := os.Create(name)
				if err != nil {
					log.Printf("failed to create qlog file: %v", err)
					return nil
				}
				return qlog.NewConnectionTracer(f, p, ci)
			},
		}
	}

	srv := &h3serve.Server{
		Addr:           net.JoinHostPort(*host, strconv.Itoa(*port)),
		App:            app,
		TLSConfig:      tlsConf,
		QUICConfig:     quicConf,
		Tickets:        h3serve.NewTicketStore(),
		StatelessRetry: *retry,
	}
	if !*verbose {
		srv.Logger = quietLogger{}
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil {
			log.Fatal(err)
		}
	case <-sig:
		srv.Close()
	}
}

// quietLogger keeps errors and warnings only.
type quietLogger struct{}

func (quietLogger) Errorf(format string, v ...interface{}) { log.Printf("ERROR "+format, v...) }
func (quietLogger) Warnf(format string, v ...interface{})  { log.Printf("WARN "+format, v...) }
func (quietLogger) Debugf(format string, v ...interface{}) {}
