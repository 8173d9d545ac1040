package h3serve

import (
	"net/http"
	"strings"

	"github.com/gobwas/httphead"
	"github.com/quic-go/qpack"
)

// ScopeType discriminates the two kinds of logical streams.
type ScopeType string

const (
	ScopeHTTP      ScopeType = "http"
	ScopeWebSocket ScopeType = "websocket"
)

// A Scope is the immutable description of one logical request, built once
// from the stream's initiating headers and handed to the application
// callback. Headers is ordered, names lower-cased, pseudo headers excluded,
// with :authority surfaced as a host header.
type Scope struct {
	Type        ScopeType
	Method      string
	Path        string
	RawPath     string
	QueryString string
	HTTPVersion string
	Scheme      string
	Headers     []qpack.HeaderField
	// Subprotocols lists the sub-protocols offered by a WebSocket client,
	// in offer order. Empty for HTTP scopes.
	Subprotocols []string
}

const websocketProtocol = "websocket"

// newScope applies the header routing rule: :authority becomes a host
// header, :method, :path and :protocol are lifted out, every other
// non-empty non-pseudo header passes through unchanged. CONNECT with
// :protocol "websocket" selects the WebSocket variant.
func newScope(fields []qpack.HeaderField, httpVersion string) *Scope {
	var method, rawPath, protocol string
	headers := make([]qpack.HeaderField, 0, len(fields))
	for _, f := range fields {
		switch {
		case f.Name == ":authority":
			headers = append(headers, qpack.HeaderField{Name: "host", Value: f.Value})
		case f.Name == ":method":
			method = f.Value
		case f.Name == ":path":
			rawPath = f.Value
		case f.Name == ":protocol":
			protocol = f.Value
		case f.Name != "" && !strings.HasPrefix(f.Name, ":"):
			headers = append(headers, f)
		}
	}

	path, query, _ := strings.Cut(rawPath, "?")
	s := &Scope{
		Type:        ScopeHTTP,
		Method:      method,
		Path:        path,
		RawPath:     rawPath,
		QueryString: query,
		HTTPVersion: httpVersion,
		Scheme:      "https",
		Headers:     headers,
	}
	if method == http.MethodConnect && protocol == websocketProtocol {
		s.Type = ScopeWebSocket
		s.Scheme = "wss"
		for _, f := range fields {
			if f.Name == "sec-websocket-protocol" {
				s.Subprotocols = append(s.Subprotocols, parseProtocolList(f.Value)...)
			}
		}
	}
	return s
}

func parseProtocolList(v string) []string {
	var protocols []string
	httphead.ScanTokens([]byte(v), func(t []byte) bool {
		protocols = append(protocols, string(t))
		return true
	})
	return protocols
}

// Header returns the value of the first header with the given lower-case
// name, or "".
func (s *Scope) Header(name string) string {
	for _, f := range s.Headers {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}
