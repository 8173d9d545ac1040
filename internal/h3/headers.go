package h3

import (
	"fmt"
	"strings"

	"github.com/quic-go/qpack"
	"golang.org/x/net/http/httpguts"
)

// validateRequestHeaders checks a decoded request header block against the
// field rules of sections 4.2 and 4.3 of RFC 9114. The header list itself
// is returned untouched so callers keep the wire order.
func validateRequestHeaders(headers []qpack.HeaderField) error {
	var readFirstRegularHeader bool
	for _, h := range headers {
		// field names need to be lowercase, see section 4.2 of RFC 9114
		if strings.ToLower(h.Name) != h.Name {
			return fmt.Errorf("header field is not lower-case: %s", h.Name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return fmt.Errorf("invalid header field value for %s: %q", h.Name, h.Value)
		}
		if h.IsPseudo() {
			if readFirstRegularHeader {
				// all pseudo headers must appear before regular header fields, see section 4.3 of RFC 9114
				return fmt.Errorf("received pseudo header %s after a regular header field", h.Name)
			}
			switch h.Name {
			case ":path", ":method", ":authority", ":scheme", ":protocol":
			default:
				return fmt.Errorf("invalid request pseudo header: %s", h.Name)
			}
		} else {
			if !httpguts.ValidHeaderFieldName(h.Name) {
				return fmt.Errorf("invalid header field name: %q", h.Name)
			}
			readFirstRegularHeader = true
		}
	}
	return nil
}
