package session

import (
	"errors"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/doipstack/doip-entity/pkg/doip"
	"github.com/doipstack/doip-entity/pkg/entity"
	"github.com/doipstack/doip-entity/pkg/uds"
)

// Phase is a TCP session's position in the routing-activation lifecycle
// described in spec.md §4.5.
type Phase int

const (
	// PhaseUnactivated is the state from accept() until a successful
	// RoutingActivationRequest: only routing activation is accepted.
	PhaseUnactivated Phase = iota
	// PhaseActivated is the normal diagnostic-exchange state.
	PhaseActivated
	// PhaseClosing means the connection is being torn down; reads and
	// writes are no longer attempted.
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseUnactivated:
		return "UNACTIVATED"
	case PhaseActivated:
		return "ACTIVATED"
	default:
		return "CLOSING"
	}
}

// Session is one TCP connection's worth of DoIP/UDS state. It is created by
// the Engine's accept loop and runs entirely on the goroutine that calls
// Run, mirroring the teacher's one-goroutine-per-node model.
type Session struct {
	conn     net.Conn
	parser   *doip.Parser
	registry *Registry
	identity entity.Identity
	uds      *uds.Dispatcher
	logger   *log.Entry

	maxConcurrentSockets byte

	writeMu sync.Mutex

	phase           Phase
	sourceAddress   *uint16
	protocolVersion byte
	awaitingAlive   bool
}

// newSession wraps an accepted connection. It does not start the read loop.
func newSession(conn net.Conn, registry *Registry, identity entity.Identity, udsConfig uds.Config, maxConcurrentSockets byte) *Session {
	logger := log.WithFields(log.Fields{
		"component": "SESSION",
		"remote":    conn.RemoteAddr().String(),
	})
	return &Session{
		conn:                 conn,
		parser:               doip.NewParser(),
		registry:             registry,
		identity:             identity,
		uds:                  uds.NewDispatcher(logger, udsConfig),
		logger:               logger,
		maxConcurrentSockets: maxConcurrentSockets,
		phase:                PhaseUnactivated,
		protocolVersion:      doip.ProtocolVersion2019,
	}
}

// Run drives the session until the connection is closed, either by the
// peer, by a protocol violation, or by a read timeout. It never returns an
// error: every failure is logged and ends with the connection closed.
func (s *Session) Run() {
	defer s.close()
	s.registry.add(s)

	s.logger.Info("[SESSION] accepted")
	readDeadline := doip.TimeoutInitialInactivity

	buf := make([]byte, 4096)
	for {
		if s.phase == PhaseClosing {
			return
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			s.logger.WithError(err).Warn("[SESSION] failed to set read deadline")
			return
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			if s.handleReadTimeout(err) {
				readDeadline = doip.TimeoutAliveCheckReply
				continue
			}
			s.logger.WithError(err).Debug("[SESSION] connection read ended")
			return
		}

		s.parser.Feed(buf[:n])
		if !s.drainParser() {
			return
		}
		readDeadline = s.nextDeadline()
	}
}

// handleReadTimeout reacts to a read deadline expiring. It returns true if
// the caller should keep the connection open (an alive-check was just sent,
// or one is outstanding and has now also timed out — in which case the
// connection is closed and false is returned instead).
func (s *Session) handleReadTimeout(err error) bool {
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		return false
	}
	switch {
	case s.phase == PhaseUnactivated:
		s.logger.Warn("[SESSION] no routing activation within inactivity timeout, closing")
		return false
	case s.awaitingAlive:
		s.logger.Warn("[SESSION] no alive check response, closing")
		return false
	default:
		s.logger.Debug("[SESSION] general inactivity timeout, sending alive check")
		s.awaitingAlive = true
		s.send(doip.AliveCheckRequest{})
		return true
	}
}

func (s *Session) nextDeadline() time.Duration {
	if s.phase == PhaseUnactivated {
		return doip.TimeoutInitialInactivity
	}
	return doip.TimeoutTCPGeneral
}

// drainParser pulls every fully-formed frame currently buffered and
// dispatches it, stopping (and returning false) if the connection must be
// closed.
func (s *Session) drainParser() bool {
	for {
		decoded, err := s.parser.Poll()
		if err == nil {
			s.protocolVersion = decoded.ProtocolVersion
			if !s.dispatch(decoded.Message) {
				return false
			}
			continue
		}
		if errors.Is(err, doip.ErrIncomplete) {
			return true
		}
		var tooLarge *doip.PayloadTooLargeError
		if errors.As(err, &tooLarge) {
			s.logger.WithError(err).Warn("[SESSION] payload too large, closing connection")
			s.send(doip.GenericHeaderNegAck{Code: doip.HeaderNackMessageTooLarge})
			return false
		}
		var headerErr *doip.HeaderError
		if errors.As(err, &headerErr) {
			s.logger.WithError(err).Debug("[SESSION] resynchronizing after bad header byte")
			s.send(doip.GenericHeaderNegAck{Code: doip.HeaderNackIncorrectPattern})
			continue
		}
		s.logger.WithError(err).Debug("[SESSION] dropping malformed frame")
		continue
	}
}

func (s *Session) dispatch(msg doip.Message) bool {
	s.awaitingAlive = false

	switch m := msg.(type) {
	case doip.RoutingActivationRequest:
		return s.handleRoutingActivation(m)
	case doip.DiagnosticMessage:
		return s.handleDiagnosticMessage(m)
	case doip.AliveCheckResponse:
		return true
	case doip.VehicleIdRequest, doip.VehicleIdRequestWithEID, doip.VehicleIdRequestWithVIN:
		// Vehicle identification belongs to the UDP discovery surface; a
		// tester that sends it over TCP gets no response.
		return true
	default:
		s.send(doip.GenericHeaderNegAck{Code: doip.HeaderNackUnknownPayloadType})
		return true
	}
}

func (s *Session) handleRoutingActivation(req doip.RoutingActivationRequest) bool {
	if s.phase == PhaseActivated {
		if s.sourceAddress != nil && *s.sourceAddress == req.SourceAddress {
			s.respondActivation(req.SourceAddress, doip.RoutingActivationSuccess)
			return true
		}
		s.respondActivation(req.SourceAddress, doip.RoutingActivationSourceInUse)
		return true
	}

	switch req.ActivationType {
	case doip.RoutingActivationTypeDefault, doip.RoutingActivationTypeOEM:
	default:
		s.respondActivation(req.SourceAddress, doip.RoutingActivationUnsupportedType)
		return true
	}

	if err := s.registry.registerSource(req.SourceAddress, s); err != nil {
		s.logger.WithError(err).Info("[SESSION] rejecting routing activation, source address in use")
		s.respondActivation(req.SourceAddress, doip.RoutingActivationSourceInUse)
		return true
	}

	sa := req.SourceAddress
	s.sourceAddress = &sa
	s.phase = PhaseActivated
	s.logger.WithField("source_address", sa).Info("[SESSION] routing activated")
	s.respondActivation(req.SourceAddress, doip.RoutingActivationSuccess)
	return true
}

func (s *Session) respondActivation(clientAddress uint16, code byte) {
	s.send(doip.RoutingActivationResponse{
		ClientAddress:  clientAddress,
		LogicalAddress: s.identity.LogicalAddress,
		ResponseCode:   code,
	})
}

func (s *Session) handleDiagnosticMessage(m doip.DiagnosticMessage) bool {
	if s.phase != PhaseActivated {
		s.send(doip.DiagnosticMessageNegAck{
			SourceAddress: m.SourceAddress,
			TargetAddress: m.TargetAddress,
			NackCode:      doip.DiagNackInvalidSource,
		})
		return true
	}
	if s.sourceAddress == nil || *s.sourceAddress != m.SourceAddress {
		s.send(doip.DiagnosticMessageNegAck{
			SourceAddress: m.SourceAddress,
			TargetAddress: m.TargetAddress,
			NackCode:      doip.DiagNackInvalidSource,
		})
		return true
	}
	if m.TargetAddress != s.identity.LogicalAddress {
		s.send(doip.DiagnosticMessageNegAck{
			SourceAddress: m.SourceAddress,
			TargetAddress: m.TargetAddress,
			NackCode:      doip.DiagNackUnknownTarget,
		})
		return true
	}

	// The positive ack must reach the wire before any UDS-layer response,
	// per spec.md's ordering invariant. Both sends happen on this
	// goroutine in this order, so no extra synchronization is needed.
	s.send(doip.DiagnosticMessagePosAck{
		SourceAddress: m.SourceAddress,
		TargetAddress: m.TargetAddress,
		AckCode:       doip.DiagAckCode,
	})

	resp := s.uds.Handle(m.UserData)
	if resp == nil {
		return true
	}
	s.send(doip.DiagnosticMessage{
		SourceAddress: m.TargetAddress,
		TargetAddress: m.SourceAddress,
		UserData:      resp,
	})
	return true
}

func (s *Session) send(msg doip.Message) {
	frame := doip.EncodeHeader(s.protocolVersion, msg.PayloadType(), msg.Pack())
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		s.logger.WithError(err).Debug("[SESSION] write failed")
	}
}

func (s *Session) close() {
	s.phase = PhaseClosing
	s.registry.remove(s)
	_ = s.conn.Close()
	s.logger.Info("[SESSION] closed")
}
