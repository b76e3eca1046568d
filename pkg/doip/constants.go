// Package doip implements the wire format of ISO 13400-2 (Diagnostics over
// Internet Protocol): the generic 8-byte header, the typed payload codecs,
// and the incremental stream parser used to turn a TCP byte stream into a
// sequence of messages.
package doip

import "time"

// Port is the IANA-assigned UDP/TCP port for DoIP traffic.
const Port = 13400

// Protocol version identifiers accepted on input. The server replies using
// whichever version the request carried.
const (
	ProtocolVersion2012 byte = 0x02
	ProtocolVersion2019 byte = 0x03
)

// Payload types, ISO 13400-2 Table 11.
const (
	PayloadTypeGenericHeaderNegAck           uint16 = 0x0000
	PayloadTypeVehicleIdRequest              uint16 = 0x0001
	PayloadTypeVehicleIdRequestWithEID       uint16 = 0x0002
	PayloadTypeVehicleIdRequestWithVIN       uint16 = 0x0003
	PayloadTypeVehicleIdResponse             uint16 = 0x0004
	PayloadTypeRoutingActivationRequest      uint16 = 0x0005
	PayloadTypeRoutingActivationResponse     uint16 = 0x0006
	PayloadTypeAliveCheckRequest             uint16 = 0x0007
	PayloadTypeAliveCheckResponse            uint16 = 0x0008
	PayloadTypeEntityStatusRequest           uint16 = 0x4001
	PayloadTypeEntityStatusResponse          uint16 = 0x4002
	PayloadTypePowerModeInfoRequest          uint16 = 0x4003
	PayloadTypePowerModeInfoResponse         uint16 = 0x4004
	PayloadTypeDiagnosticMessage             uint16 = 0x8001
	PayloadTypeDiagnosticMessagePosAck       uint16 = 0x8002
	PayloadTypeDiagnosticMessageNegAck       uint16 = 0x8003
)

// Generic header NACK codes (ISO 13400-2 Table 15).
const (
	HeaderNackIncorrectPattern   byte = 0x00
	HeaderNackUnknownPayloadType byte = 0x01
	HeaderNackMessageTooLarge    byte = 0x02
	HeaderNackOutOfMemory        byte = 0x03
	HeaderNackInvalidPayloadLen  byte = 0x04
)

// Diagnostic message ack/nack codes.
const (
	DiagAckCode            byte = 0x00
	DiagNackInvalidSource   byte = 0x02
	DiagNackUnknownTarget   byte = 0x03
	DiagNackMessageTooLarge byte = 0x04
	DiagNackOutOfMemory     byte = 0x05
	DiagNackTransportError  byte = 0x06
)

// Routing activation response codes (ISO 13400-2 Table 20).
const (
	RoutingActivationUnknownSource         byte = 0x00
	RoutingActivationNoSockets              byte = 0x01
	RoutingActivationSourceMismatch         byte = 0x02
	RoutingActivationSourceInUse            byte = 0x03
	RoutingActivationRegisteredElsewhere    byte = 0x04
	RoutingActivationAuthMissing            byte = 0x05
	RoutingActivationConfirmationRejected   byte = 0x06
	RoutingActivationUnsupportedType        byte = 0x07
	RoutingActivationSuccess                byte = 0x10
	RoutingActivationSuccessPendingConfirm  byte = 0x11
)

const (
	// RoutingActivationTypeDefault is the standard activation type.
	RoutingActivationTypeDefault byte = 0x00
	// RoutingActivationTypeOEM is accepted as an OEM-specific success path.
	RoutingActivationTypeOEM byte = 0xE0
)

// HeaderSize is the fixed size of the generic DoIP header.
const HeaderSize = 8

// MaxDoIPPayload is the largest payload_length this entity will accept
// before declaring the frame fatal and closing the TCP connection.
const MaxDoIPPayload = 64*1024 + HeaderSize

// Timing constants, ISO 13400-2 Annex and spec.md §5.
const (
	TimeoutInitialInactivity = 2 * time.Second
	TimeoutTCPGeneral        = 5 * time.Second
	TimeoutAliveCheckReply   = 2 * time.Second

	AnnounceWaitMax   = 500 * time.Millisecond
	AnnounceBurstCount = 3
	AnnounceInterval   = 2 * time.Second
)
