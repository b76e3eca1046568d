package uds

import (
	"bytes"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(log.WithField("test", true), Config{})
}

func TestSessionControlPositiveResponse(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Handle([]byte{ServiceDiagnosticSessionControl, SessionExtended})
	require.Equal(t, []byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4}, resp)
}

func TestSessionControlInvalidSubfunction(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Handle([]byte{ServiceDiagnosticSessionControl, 0x7F})
	require.Equal(t, negativeResponse(ServiceDiagnosticSessionControl, NRCSubFunctionNotSupported), resp)
}

func TestTesterPresentSuppressed(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Handle([]byte{ServiceTesterPresent, 0x80}) // suppress bit set
	require.Nil(t, resp)
}

func TestUnknownServiceIsRejected(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Handle([]byte{0xAB})
	require.Equal(t, negativeResponse(0xAB, NRCServiceNotSupported), resp)
}

func TestSecurityAccessHappyPath(t *testing.T) {
	d := newTestDispatcher()
	seedResp := d.Handle([]byte{ServiceSecurityAccess, 0x01})
	require.Equal(t, byte(0x67), seedResp[0])
	require.Equal(t, byte(0x01), seedResp[1])
	seed := seedResp[2:]
	require.Len(t, seed, 4)

	keyResp := d.Handle(append([]byte{ServiceSecurityAccess, 0x02}, seed...))
	require.Equal(t, positiveResponse(ServiceSecurityAccess, 0x02), keyResp)
}

func TestSecurityAccessSendKeyBeforeSeedIsSequenceError(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Handle([]byte{ServiceSecurityAccess, 0x02, 0, 0, 0, 0})
	require.Equal(t, negativeResponse(ServiceSecurityAccess, NRCRequestSequenceError), resp)
}

func TestSecurityAccessWrongKeyLockout(t *testing.T) {
	d := newTestDispatcher()
	for i := 0; i < SecurityAttemptsDefault; i++ {
		seedResp := d.Handle([]byte{ServiceSecurityAccess, 0x01})
		seed := seedResp[2:]
		wrongKey := append([]byte(nil), seed...)
		wrongKey[0] ^= 0xFF
		resp := d.Handle(append([]byte{ServiceSecurityAccess, 0x02}, wrongKey...))
		if i < SecurityAttemptsDefault-1 {
			require.Equal(t, negativeResponse(ServiceSecurityAccess, NRCInvalidKey), resp, "attempt %d", i)
		} else {
			require.Equal(t, negativeResponse(ServiceSecurityAccess, NRCExceedNumberOfAttempts), resp)
		}
	}

	// Locked out now: even a correct seed/key cycle is rejected.
	resp := d.Handle([]byte{ServiceSecurityAccess, 0x01})
	require.Equal(t, negativeResponse(ServiceSecurityAccess, NRCExceedNumberOfAttempts), resp)
}

func TestRoutineControlEchoesIdAndStatus(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Handle([]byte{ServiceRoutineControl, RoutineStart, 0x12, 0x34})
	require.Equal(t, []byte{0x71, 0x01, 0x12, 0x34, 0x00}, resp)
}

func TestDownloadTwoBlocksThenExit(t *testing.T) {
	d := newTestDispatcher()

	// RequestDownload: dataFormatId=0x00, AALFI=0x44 (4-byte address, 4-byte size),
	// address=0x1234, size=10.
	req := []byte{ServiceRequestDownload, 0x00, 0x44, 0x00, 0x00, 0x12, 0x34, 0x00, 0x00, 0x00, 0x0A}
	resp := d.Handle(req)
	require.Equal(t, []byte{0x74, 0x20, 0x10, 0x00}, resp)

	resp = d.Handle([]byte{ServiceTransferData, 0x01, 1, 2, 3, 4, 5})
	require.Equal(t, []byte{0x76, 0x01}, resp)

	resp = d.Handle([]byte{ServiceTransferData, 0x02, 6, 7, 8, 9, 10})
	require.Equal(t, []byte{0x76, 0x02}, resp)

	resp = d.Handle([]byte{ServiceRequestTransferExit})
	require.Equal(t, []byte{0x77}, resp)
}

func TestWrongBlockCounterThenRecovers(t *testing.T) {
	d := newTestDispatcher()
	d.Handle([]byte{ServiceRequestDownload, 0x00, 0x44, 0x00, 0x00, 0x12, 0x34, 0x00, 0x00, 0x00, 0x0A})
	d.Handle([]byte{ServiceTransferData, 0x01, 1, 2, 3, 4, 5})

	resp := d.Handle([]byte{ServiceTransferData, 0x03, 6, 7, 8, 9, 10})
	require.Equal(t, negativeResponse(ServiceTransferData, NRCWrongBlockSequenceCounter), resp)
	require.True(t, d.ActiveTransfer(), "download_context must stay intact after a rejected block")

	resp = d.Handle([]byte{ServiceTransferData, 0x02, 6, 7, 8, 9, 10})
	require.Equal(t, []byte{0x76, 0x02}, resp)
}

func TestIdempotentRetransmissionDoesNotAdvanceState(t *testing.T) {
	d := newTestDispatcher()
	d.Handle([]byte{ServiceRequestDownload, 0x00, 0x44, 0x00, 0x00, 0x12, 0x34, 0x00, 0x00, 0x00, 0x0A})
	d.Handle([]byte{ServiceTransferData, 0x01, 1, 2, 3, 4, 5})

	before := d.transfer.remainingBytes
	resp := d.Handle([]byte{ServiceTransferData, 0x01, 1, 2, 3, 4, 5})
	require.Equal(t, []byte{0x76, 0x01}, resp)
	require.Equal(t, before, d.transfer.remainingBytes)
}

func TestAtMostOneActiveDownloadPerSession(t *testing.T) {
	d := newTestDispatcher()
	req := []byte{ServiceRequestDownload, 0x00, 0x44, 0x00, 0x00, 0x12, 0x34, 0x00, 0x00, 0x00, 0x0A}
	d.Handle(req)
	resp := d.Handle(req)
	require.Equal(t, negativeResponse(ServiceRequestDownload, NRCRequestSequenceError), resp)
}

func TestBlockCounterWraps(t *testing.T) {
	d := newTestDispatcher()
	d.Handle([]byte{ServiceRequestDownload, 0x00, 0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00})
	counter := byte(0x01)
	for i := 0; i < 255; i++ {
		resp := d.Handle([]byte{ServiceTransferData, counter, 0xAA})
		require.Equal(t, []byte{0x76, counter}, resp)
		counter++
	}
	require.Equal(t, byte(0x00), d.transfer.expectedCounter)
	resp := d.Handle([]byte{ServiceTransferData, 0x00, 0xAA})
	require.Equal(t, []byte{0x76, 0x00}, resp)
}

func TestTransferDataWithoutActiveDownload(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Handle([]byte{ServiceTransferData, 0x01, 1, 2, 3})
	require.Equal(t, negativeResponse(ServiceTransferData, NRCRequestSequenceError), resp)
}

func TestSinkFactoryReceivesBlockData(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(log.WithField("test", true), Config{
		SinkFactory: func(address, size uint64) io.Writer { return &buf },
	})
	d.Handle([]byte{ServiceRequestDownload, 0x00, 0x44, 0x00, 0x00, 0x12, 0x34, 0x00, 0x00, 0x00, 0x05})
	d.Handle([]byte{ServiceTransferData, 0x01, 1, 2, 3, 4, 5})
	require.Equal(t, []byte{1, 2, 3, 4, 5}, buf.Bytes())
}
