package doip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	for _, version := range []byte{ProtocolVersion2012, ProtocolVersion2019} {
		for _, bodyLen := range []int{0, 1, 7, 33, 4096} {
			body := make([]byte, bodyLen)
			for i := range body {
				body[i] = byte(i)
			}
			frame := EncodeHeader(version, PayloadTypeDiagnosticMessage, body)
			hdr, err := DecodeHeader(frame[:HeaderSize])
			require.NoError(t, err)
			require.Equal(t, version, hdr.ProtocolVersion)
			require.Equal(t, byte(0xFF^version), hdr.InverseProtocolVersion)
			require.Equal(t, PayloadTypeDiagnosticMessage, hdr.PayloadType)
			require.Equal(t, uint32(bodyLen), hdr.PayloadLength)
			require.Equal(t, body, frame[HeaderSize:])
		}
	}
}

func TestDecodeHeaderBadInverse(t *testing.T) {
	frame := EncodeHeader(ProtocolVersion2012, PayloadTypeAliveCheckRequest, nil)
	frame[1] = 0x00 // corrupt inverse byte
	_, err := DecodeHeader(frame[:HeaderSize])
	require.Error(t, err)
	var headerErr *HeaderError
	require.ErrorAs(t, err, &headerErr)
}

func TestDecodeHeaderWrongLength(t *testing.T) {
	_, err := DecodeHeader([]byte{0x02, 0xFD})
	require.Error(t, err)
}
