package h3

import "github.com/quic-go/quic-go/quicvarint"

// Frame types defined in section 7.2 of RFC 9114.
const (
	frameTypeData        = 0x0
	frameTypeHeaders     = 0x1
	frameTypeCancelPush  = 0x3
	frameTypeSettings    = 0x4
	frameTypePushPromise = 0x5
	frameTypeGoAway      = 0x7
	frameTypeMaxPushID   = 0xd
)

// Unidirectional stream types, section 6.2 of RFC 9114.
const (
	streamTypeControl      = 0x0
	streamTypePush         = 0x1
	streamTypeQPACKEncoder = 0x2
	streamTypeQPACKDecoder = 0x3
)

type dataFrame struct {
	Length uint64
}

func (f *dataFrame) Append(b []byte) []byte {
	b = quicvarint.Append(b, frameTypeData)
	return quicvarint.Append(b, f.Length)
}

type headersFrame struct {
	Length uint64
}

func (f *headersFrame) Append(b []byte) []byte {
	b = quicvarint.Append(b, frameTypeHeaders)
	return quicvarint.Append(b, f.Length)
}

type settingsFrame struct{}

func (f *settingsFrame) Append(b []byte) []byte {
	b = quicvarint.Append(b, frameTypeSettings)
	return quicvarint.Append(b, 0)
}

// parseVarint reads one QUIC variable-length integer from the front of b.
// ok is false when b does not yet hold the complete encoding.
func parseVarint(b []byte) (v uint64, n int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	l := 1 << (b[0] >> 6)
	if len(b) < l {
		return 0, 0, false
	}
	v, n, err := quicvarint.Parse(b[:l])
	if err != nil {
		return 0, 0, false
	}
	return v, n, true
}
