package doip

import (
	"encoding/binary"
	"fmt"
)

// Header is the generic 8-byte DoIP header described in ISO 13400-2 Table 9.
type Header struct {
	ProtocolVersion        byte
	InverseProtocolVersion byte
	PayloadType            uint16
	PayloadLength          uint32
}

// HeaderError is returned by DecodeHeader when the inverse-version byte does
// not match, carrying the offending byte so the caller can decide how to
// resynchronize.
type HeaderError struct {
	Got  byte
	Want byte
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("doip: bad inverse protocol version byte: got x%02x, want x%02x", e.Got, e.Want)
}

// EncodeHeader packs the 8-byte generic header followed by body into a
// single frame. payload_length is always derived from len(body), never
// passed in separately, so the invariant in spec.md §3 holds by
// construction.
func EncodeHeader(version byte, payloadType uint16, body []byte) []byte {
	frame := make([]byte, HeaderSize+len(body))
	frame[0] = version
	frame[1] = 0xFF ^ version
	binary.BigEndian.PutUint16(frame[2:4], payloadType)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame
}

// DecodeHeader validates and unpacks an 8-byte header. The caller must pass
// exactly HeaderSize bytes.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("doip: header must be %d bytes, got %d", HeaderSize, len(b))
	}
	h := Header{
		ProtocolVersion:        b[0],
		InverseProtocolVersion: b[1],
		PayloadType:            binary.BigEndian.Uint16(b[2:4]),
		PayloadLength:          binary.BigEndian.Uint32(b[4:8]),
	}
	want := 0xFF ^ h.ProtocolVersion
	if h.InverseProtocolVersion != want {
		return h, &HeaderError{Got: h.InverseProtocolVersion, Want: want}
	}
	return h, nil
}
