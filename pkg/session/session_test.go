package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doipstack/doip-entity/pkg/doip"
	"github.com/doipstack/doip-entity/pkg/entity"
	"github.com/doipstack/doip-entity/pkg/uds"
)

func testIdentity(t *testing.T) entity.Identity {
	t.Helper()
	id, err := entity.New("L6T7854Z4ND000050", 0x1000, []byte{1, 2, 3, 4, 5, 6}, []byte{6, 5, 4, 3, 2, 1}, 0)
	require.NoError(t, err)
	return id
}

// newPipedSession wires a Session, registered in registry, to one end of an
// in-memory net.Pipe and returns the other end for the test to drive.
func newPipedSession(t *testing.T, registry *Registry) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	s := newSession(server, registry, testIdentity(t), uds.Config{}, 8)
	go s.Run()
	return client
}

func readFrame(t *testing.T, conn net.Conn) (doip.Header, doip.Message) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	header := make([]byte, doip.HeaderSize)
	_, err := readFull(conn, header)
	require.NoError(t, err)
	hdr, err := doip.DecodeHeader(header)
	require.NoError(t, err)
	body := make([]byte, hdr.PayloadLength)
	if hdr.PayloadLength > 0 {
		_, err = readFull(conn, body)
		require.NoError(t, err)
	}
	msg, err := doip.UnpackPayload(hdr.PayloadType, body)
	require.NoError(t, err)
	return hdr, msg
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sendFrame(t *testing.T, conn net.Conn, msg doip.Message) {
	t.Helper()
	frame := doip.EncodeHeader(doip.ProtocolVersion2019, msg.PayloadType(), msg.Pack())
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

func TestRoutingActivationThenDiagnosticExchange(t *testing.T) {
	registry := NewRegistry()
	client := newPipedSession(t, registry)

	sendFrame(t, client, doip.RoutingActivationRequest{SourceAddress: 0x0E00, ActivationType: doip.RoutingActivationTypeDefault})
	_, msg := readFrame(t, client)
	activation := msg.(doip.RoutingActivationResponse)
	require.Equal(t, doip.RoutingActivationSuccess, activation.ResponseCode)
	require.Equal(t, uint16(0x1000), activation.LogicalAddress)

	// Tester-present, minimal UDS round trip through the dispatcher.
	sendFrame(t, client, doip.DiagnosticMessage{
		SourceAddress: 0x0E00,
		TargetAddress: 0x1000,
		UserData:      []byte{uds.ServiceTesterPresent, 0x00},
	})

	_, ackMsg := readFrame(t, client)
	ack := ackMsg.(doip.DiagnosticMessagePosAck)
	require.Equal(t, doip.DiagAckCode, ack.AckCode)

	_, respMsg := readFrame(t, client)
	resp := respMsg.(doip.DiagnosticMessage)
	require.Equal(t, []byte{0x7E, 0x00}, resp.UserData)
	require.Equal(t, uint16(0x1000), resp.SourceAddress)
	require.Equal(t, uint16(0x0E00), resp.TargetAddress)
}

func TestDiagnosticMessageBeforeActivationIsRejected(t *testing.T) {
	registry := NewRegistry()
	client := newPipedSession(t, registry)

	sendFrame(t, client, doip.DiagnosticMessage{SourceAddress: 0x0E00, TargetAddress: 0x1000, UserData: []byte{uds.ServiceTesterPresent, 0x00}})

	_, msg := readFrame(t, client)
	nack := msg.(doip.DiagnosticMessageNegAck)
	require.Equal(t, doip.DiagNackInvalidSource, nack.NackCode)
}

func TestUnsupportedActivationTypeIsRejected(t *testing.T) {
	registry := NewRegistry()
	client := newPipedSession(t, registry)

	sendFrame(t, client, doip.RoutingActivationRequest{SourceAddress: 0x0E00, ActivationType: 0x55})
	_, msg := readFrame(t, client)
	activation := msg.(doip.RoutingActivationResponse)
	require.Equal(t, doip.RoutingActivationUnsupportedType, activation.ResponseCode)
}

func TestUnknownTargetAddressIsRejected(t *testing.T) {
	registry := NewRegistry()
	client := newPipedSession(t, registry)

	sendFrame(t, client, doip.RoutingActivationRequest{SourceAddress: 0x0E00, ActivationType: doip.RoutingActivationTypeDefault})
	readFrame(t, client)

	sendFrame(t, client, doip.DiagnosticMessage{SourceAddress: 0x0E00, TargetAddress: 0x9999, UserData: []byte{uds.ServiceTesterPresent, 0x00}})
	_, msg := readFrame(t, client)
	nack := msg.(doip.DiagnosticMessageNegAck)
	require.Equal(t, doip.DiagNackUnknownTarget, nack.NackCode)
}

func TestDuplicateSourceAddressOnAnotherConnectionIsRejected(t *testing.T) {
	registry := NewRegistry()

	first := newPipedSession(t, registry)
	sendFrame(t, first, doip.RoutingActivationRequest{SourceAddress: 0x0E00, ActivationType: doip.RoutingActivationTypeDefault})
	_, msg := readFrame(t, first)
	require.Equal(t, doip.RoutingActivationSuccess, msg.(doip.RoutingActivationResponse).ResponseCode)

	second := newPipedSession(t, registry)
	sendFrame(t, second, doip.RoutingActivationRequest{SourceAddress: 0x0E00, ActivationType: doip.RoutingActivationTypeDefault})
	_, msg2 := readFrame(t, second)
	require.Equal(t, doip.RoutingActivationSourceInUse, msg2.(doip.RoutingActivationResponse).ResponseCode)
}

func TestEngineEnforcesMaxConcurrentSockets(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	registry := NewRegistry()
	engine := newEngine(ln, testIdentity(t), EngineConfig{MaxConcurrentSockets: 1}, registry)
	go engine.Serve(context.Background())
	t.Cleanup(func() { engine.Close() })

	addr := ln.Addr().String()

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })

	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	require.Error(t, err, "second connection beyond the limit must be closed immediately")
}
