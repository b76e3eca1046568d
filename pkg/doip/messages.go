package doip

import (
	"encoding/binary"
	"fmt"
)

// Message is implemented by every typed DoIP payload.
type Message interface {
	// PayloadType returns this message's 16-bit payload type identifier.
	PayloadType() uint16
	// Pack serializes the payload body (header is added separately by
	// EncodeHeader).
	Pack() []byte
}

// ---- Generic negative acknowledge ----------------------------------------

// GenericHeaderNegAck is sent when the header itself could not be accepted
// (unknown payload type, oversized payload, malformed pattern).
type GenericHeaderNegAck struct {
	Code byte
}

func (m GenericHeaderNegAck) PayloadType() uint16 { return PayloadTypeGenericHeaderNegAck }

func (m GenericHeaderNegAck) Pack() []byte { return []byte{m.Code} }

func unpackGenericHeaderNegAck(body []byte) (Message, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("doip: GenericHeaderNegAck body too short")
	}
	return GenericHeaderNegAck{Code: body[0]}, nil
}

// ---- Vehicle identification / announcement --------------------------------

// VehicleIdRequest is the plain VehicleIdentificationRequest (no selector).
type VehicleIdRequest struct{}

func (m VehicleIdRequest) PayloadType() uint16 { return PayloadTypeVehicleIdRequest }
func (m VehicleIdRequest) Pack() []byte        { return nil }

func unpackVehicleIdRequest(body []byte) (Message, error) { return VehicleIdRequest{}, nil }

// VehicleIdRequestWithEID selects a specific entity by EID.
type VehicleIdRequestWithEID struct {
	EID [6]byte
}

func (m VehicleIdRequestWithEID) PayloadType() uint16 { return PayloadTypeVehicleIdRequestWithEID }
func (m VehicleIdRequestWithEID) Pack() []byte        { return m.EID[:] }

func unpackVehicleIdRequestWithEID(body []byte) (Message, error) {
	if len(body) < 6 {
		return nil, fmt.Errorf("doip: VehicleIdRequestWithEID body too short")
	}
	var m VehicleIdRequestWithEID
	copy(m.EID[:], body[:6])
	return m, nil
}

// VehicleIdRequestWithVIN selects a specific entity by VIN.
type VehicleIdRequestWithVIN struct {
	VIN [17]byte
}

func (m VehicleIdRequestWithVIN) PayloadType() uint16 { return PayloadTypeVehicleIdRequestWithVIN }
func (m VehicleIdRequestWithVIN) Pack() []byte        { return m.VIN[:] }

func unpackVehicleIdRequestWithVIN(body []byte) (Message, error) {
	if len(body) < 17 {
		return nil, fmt.Errorf("doip: VehicleIdRequestWithVIN body too short")
	}
	var m VehicleIdRequestWithVIN
	copy(m.VIN[:], body[:17])
	return m, nil
}

// VehicleIdResponse is both the VehicleIdentificationResponse and the
// VehicleAnnouncement — the two share a wire shape.
type VehicleIdResponse struct {
	VIN                  [17]byte
	LogicalAddress       uint16
	EID                  [6]byte
	GID                  [6]byte
	FurtherActionRequired byte
	// SyncStatus is optional on input (accept 32- or 33-byte bodies); this
	// entity always emits it (33-byte form).
	SyncStatus byte
}

func (m VehicleIdResponse) PayloadType() uint16 { return PayloadTypeVehicleIdResponse }

func (m VehicleIdResponse) Pack() []byte {
	b := make([]byte, 33)
	copy(b[0:17], m.VIN[:])
	binary.BigEndian.PutUint16(b[17:19], m.LogicalAddress)
	copy(b[19:25], m.EID[:])
	copy(b[25:31], m.GID[:])
	b[31] = m.FurtherActionRequired
	b[32] = m.SyncStatus
	return b
}

func unpackVehicleIdResponse(body []byte) (Message, error) {
	if len(body) != 32 && len(body) != 33 {
		return nil, fmt.Errorf("doip: VehicleIdResponse body must be 32 or 33 bytes, got %d", len(body))
	}
	var m VehicleIdResponse
	copy(m.VIN[:], body[0:17])
	m.LogicalAddress = binary.BigEndian.Uint16(body[17:19])
	copy(m.EID[:], body[19:25])
	copy(m.GID[:], body[25:31])
	m.FurtherActionRequired = body[31]
	if len(body) == 33 {
		m.SyncStatus = body[32]
	}
	return m, nil
}

// ---- Routing activation -----------------------------------------------

// RoutingActivationRequest is sent by a tester to bind its source address to
// the TCP connection.
type RoutingActivationRequest struct {
	SourceAddress  uint16
	ActivationType byte
	ReservedISO    [4]byte
	ReservedOEM    []byte // present iff len > 0
}

func (m RoutingActivationRequest) PayloadType() uint16 {
	return PayloadTypeRoutingActivationRequest
}

func (m RoutingActivationRequest) Pack() []byte {
	b := make([]byte, 7, 11)
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	b[2] = m.ActivationType
	copy(b[3:7], m.ReservedISO[:])
	b = append(b, m.ReservedOEM...)
	return b
}

func unpackRoutingActivationRequest(body []byte) (Message, error) {
	if len(body) < 7 {
		return nil, fmt.Errorf("doip: RoutingActivationRequest body too short")
	}
	m := RoutingActivationRequest{
		SourceAddress:  binary.BigEndian.Uint16(body[0:2]),
		ActivationType: body[2],
	}
	copy(m.ReservedISO[:], body[3:7])
	if len(body) > 7 {
		m.ReservedOEM = append([]byte(nil), body[7:]...)
	}
	return m, nil
}

// RoutingActivationResponse is this entity's reply to a routing activation
// request.
type RoutingActivationResponse struct {
	ClientAddress  uint16
	LogicalAddress uint16
	ResponseCode   byte
	ReservedISO    [4]byte
	ReservedOEM    []byte
}

func (m RoutingActivationResponse) PayloadType() uint16 {
	return PayloadTypeRoutingActivationResponse
}

func (m RoutingActivationResponse) Pack() []byte {
	b := make([]byte, 9, 13)
	binary.BigEndian.PutUint16(b[0:2], m.ClientAddress)
	binary.BigEndian.PutUint16(b[2:4], m.LogicalAddress)
	b[4] = m.ResponseCode
	copy(b[5:9], m.ReservedISO[:])
	b = append(b, m.ReservedOEM...)
	return b
}

func unpackRoutingActivationResponse(body []byte) (Message, error) {
	if len(body) < 9 {
		return nil, fmt.Errorf("doip: RoutingActivationResponse body too short")
	}
	m := RoutingActivationResponse{
		ClientAddress:  binary.BigEndian.Uint16(body[0:2]),
		LogicalAddress: binary.BigEndian.Uint16(body[2:4]),
		ResponseCode:   body[4],
	}
	copy(m.ReservedISO[:], body[5:9])
	if len(body) > 9 {
		m.ReservedOEM = append([]byte(nil), body[9:]...)
	}
	return m, nil
}

// ---- Alive check --------------------------------------------------------

type AliveCheckRequest struct{}

func (m AliveCheckRequest) PayloadType() uint16 { return PayloadTypeAliveCheckRequest }
func (m AliveCheckRequest) Pack() []byte        { return nil }

func unpackAliveCheckRequest(body []byte) (Message, error) { return AliveCheckRequest{}, nil }

type AliveCheckResponse struct {
	SourceAddress uint16
}

func (m AliveCheckResponse) PayloadType() uint16 { return PayloadTypeAliveCheckResponse }

func (m AliveCheckResponse) Pack() []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, m.SourceAddress)
	return b
}

func unpackAliveCheckResponse(body []byte) (Message, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("doip: AliveCheckResponse body too short")
	}
	return AliveCheckResponse{SourceAddress: binary.BigEndian.Uint16(body[0:2])}, nil
}

// ---- Entity status --------------------------------------------------------

type EntityStatusRequest struct{}

func (m EntityStatusRequest) PayloadType() uint16 { return PayloadTypeEntityStatusRequest }
func (m EntityStatusRequest) Pack() []byte        { return nil }

func unpackEntityStatusRequest(body []byte) (Message, error) { return EntityStatusRequest{}, nil }

type EntityStatusResponse struct {
	NodeType              byte
	MaxConcurrentSockets  byte
	CurrentlyOpenSockets  byte
	MaxDataSize           uint32
	HasMaxDataSize        bool
}

func (m EntityStatusResponse) PayloadType() uint16 { return PayloadTypeEntityStatusResponse }

func (m EntityStatusResponse) Pack() []byte {
	b := []byte{m.NodeType, m.MaxConcurrentSockets, m.CurrentlyOpenSockets}
	if m.HasMaxDataSize {
		extra := make([]byte, 4)
		binary.BigEndian.PutUint32(extra, m.MaxDataSize)
		b = append(b, extra...)
	}
	return b
}

func unpackEntityStatusResponse(body []byte) (Message, error) {
	if len(body) < 3 {
		return nil, fmt.Errorf("doip: EntityStatusResponse body too short")
	}
	m := EntityStatusResponse{
		NodeType:             body[0],
		MaxConcurrentSockets: body[1],
		CurrentlyOpenSockets: body[2],
	}
	if len(body) >= 7 {
		m.MaxDataSize = binary.BigEndian.Uint32(body[3:7])
		m.HasMaxDataSize = true
	}
	return m, nil
}

// ---- Diagnostic power mode --------------------------------------------

type PowerModeInfoRequest struct{}

func (m PowerModeInfoRequest) PayloadType() uint16 { return PayloadTypePowerModeInfoRequest }
func (m PowerModeInfoRequest) Pack() []byte        { return nil }

func unpackPowerModeInfoRequest(body []byte) (Message, error) {
	return PowerModeInfoRequest{}, nil
}

type PowerModeInfoResponse struct {
	PowerMode byte
}

func (m PowerModeInfoResponse) PayloadType() uint16 { return PayloadTypePowerModeInfoResponse }
func (m PowerModeInfoResponse) Pack() []byte        { return []byte{m.PowerMode} }

func unpackPowerModeInfoResponse(body []byte) (Message, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("doip: PowerModeInfoResponse body too short")
	}
	return PowerModeInfoResponse{PowerMode: body[0]}, nil
}

// ---- Diagnostic message -------------------------------------------------

// DiagnosticMessage carries a UDS request or response as its UserData.
type DiagnosticMessage struct {
	SourceAddress uint16
	TargetAddress uint16
	UserData      []byte
}

func (m DiagnosticMessage) PayloadType() uint16 { return PayloadTypeDiagnosticMessage }

func (m DiagnosticMessage) Pack() []byte {
	b := make([]byte, 4+len(m.UserData))
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	binary.BigEndian.PutUint16(b[2:4], m.TargetAddress)
	copy(b[4:], m.UserData)
	return b
}

func unpackDiagnosticMessage(body []byte) (Message, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("doip: DiagnosticMessage body too short")
	}
	m := DiagnosticMessage{
		SourceAddress: binary.BigEndian.Uint16(body[0:2]),
		TargetAddress: binary.BigEndian.Uint16(body[2:4]),
	}
	if len(body) > 4 {
		m.UserData = append([]byte(nil), body[4:]...)
	}
	return m, nil
}

// DiagnosticMessagePosAck / DiagnosticMessageNegAck acknowledge receipt of a
// DiagnosticMessage at the DoIP layer, independent of any UDS-layer reply.
type DiagnosticMessagePosAck struct {
	SourceAddress uint16
	TargetAddress uint16
	AckCode       byte
	PreviousData  []byte
}

func (m DiagnosticMessagePosAck) PayloadType() uint16 {
	return PayloadTypeDiagnosticMessagePosAck
}

func (m DiagnosticMessagePosAck) Pack() []byte {
	b := make([]byte, 5, 5+len(m.PreviousData))
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	binary.BigEndian.PutUint16(b[2:4], m.TargetAddress)
	b[4] = m.AckCode
	b = append(b, m.PreviousData...)
	return b
}

func unpackDiagnosticMessagePosAck(body []byte) (Message, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("doip: DiagnosticMessagePosAck body too short")
	}
	m := DiagnosticMessagePosAck{
		SourceAddress: binary.BigEndian.Uint16(body[0:2]),
		TargetAddress: binary.BigEndian.Uint16(body[2:4]),
		AckCode:       body[4],
	}
	if len(body) > 5 {
		m.PreviousData = append([]byte(nil), body[5:]...)
	}
	return m, nil
}

type DiagnosticMessageNegAck struct {
	SourceAddress uint16
	TargetAddress uint16
	NackCode      byte
	PreviousData  []byte
}

func (m DiagnosticMessageNegAck) PayloadType() uint16 {
	return PayloadTypeDiagnosticMessageNegAck
}

func (m DiagnosticMessageNegAck) Pack() []byte {
	b := make([]byte, 5, 5+len(m.PreviousData))
	binary.BigEndian.PutUint16(b[0:2], m.SourceAddress)
	binary.BigEndian.PutUint16(b[2:4], m.TargetAddress)
	b[4] = m.NackCode
	b = append(b, m.PreviousData...)
	return b
}

func unpackDiagnosticMessageNegAck(body []byte) (Message, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("doip: DiagnosticMessageNegAck body too short")
	}
	m := DiagnosticMessageNegAck{
		SourceAddress: binary.BigEndian.Uint16(body[0:2]),
		TargetAddress: binary.BigEndian.Uint16(body[2:4]),
		NackCode:      body[4],
	}
	if len(body) > 5 {
		m.PreviousData = append([]byte(nil), body[5:]...)
	}
	return m, nil
}

// ---- Reserved / unknown -------------------------------------------------

// ReservedMessage preserves the raw body of any payload_type this entity
// does not implement, so it can still be logged rather than silently
// dropped.
type ReservedMessage struct {
	Type uint16
	Raw  []byte
}

func (m ReservedMessage) PayloadType() uint16 { return m.Type }
func (m ReservedMessage) Pack() []byte        { return m.Raw }

// ---- dispatch table -------------------------------------------------------

type unpackFunc func(body []byte) (Message, error)

var unpackers = map[uint16]unpackFunc{
	PayloadTypeGenericHeaderNegAck:       unpackGenericHeaderNegAck,
	PayloadTypeVehicleIdRequest:          unpackVehicleIdRequest,
	PayloadTypeVehicleIdRequestWithEID:   unpackVehicleIdRequestWithEID,
	PayloadTypeVehicleIdRequestWithVIN:   unpackVehicleIdRequestWithVIN,
	PayloadTypeVehicleIdResponse:         unpackVehicleIdResponse,
	PayloadTypeRoutingActivationRequest:  unpackRoutingActivationRequest,
	PayloadTypeRoutingActivationResponse: unpackRoutingActivationResponse,
	PayloadTypeAliveCheckRequest:         unpackAliveCheckRequest,
	PayloadTypeAliveCheckResponse:        unpackAliveCheckResponse,
	PayloadTypeEntityStatusRequest:       unpackEntityStatusRequest,
	PayloadTypeEntityStatusResponse:      unpackEntityStatusResponse,
	PayloadTypePowerModeInfoRequest:      unpackPowerModeInfoRequest,
	PayloadTypePowerModeInfoResponse:     unpackPowerModeInfoResponse,
	PayloadTypeDiagnosticMessage:         unpackDiagnosticMessage,
	PayloadTypeDiagnosticMessagePosAck:   unpackDiagnosticMessagePosAck,
	PayloadTypeDiagnosticMessageNegAck:   unpackDiagnosticMessageNegAck,
}

// UnpackPayload decodes body according to payloadType. Unknown types become
// a ReservedMessage rather than an error, per spec.md §4.2.
func UnpackPayload(payloadType uint16, body []byte) (Message, error) {
	if fn, ok := unpackers[payloadType]; ok {
		return fn(body)
	}
	return ReservedMessage{Type: payloadType, Raw: append([]byte(nil), body...)}, nil
}
