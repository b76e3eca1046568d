package uds

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// KeyFunc computes the expected key for a given security level and seed.
// The default implementation is an explicit placeholder (spec.md §9 Open
// Question: "do not guess" a real algorithm) — it returns the seed
// unchanged. Real deployments must supply their own KeyFunc.
type KeyFunc func(level byte, seed []byte) []byte

// IdentityKeyFunc is the stub KeyFunc shipped by default. It exists so the
// seed/key *mechanics* (ordering, attempt counting, lockout) are testable
// without embedding a real cryptographic algorithm in this entity.
func IdentityKeyFunc(level byte, seed []byte) []byte {
	out := make([]byte, len(seed))
	copy(out, seed)
	return out
}

// Request is a parsed UDS request.
type Request struct {
	Service               byte
	SuppressPositiveResponse bool
	Subfunction           byte
	Data                  []byte // parameter bytes after the (optional) subfunction byte
}

// subfunctionServices is the set of services whose second byte is a
// subfunction with a suppress-positive-response bit in position 7.
var subfunctionServices = map[byte]bool{
	ServiceDiagnosticSessionControl: true,
	ServiceECUReset:                 true,
	ServiceSecurityAccess:           true,
	ServiceRoutineControl:           true,
	ServiceTesterPresent:            true,
}

// ParseRequest splits the raw UDS payload into service id, subfunction (if
// applicable) and parameters.
func ParseRequest(data []byte) (Request, bool) {
	if len(data) < 1 {
		return Request{}, false
	}
	req := Request{Service: data[0]}
	rest := data[1:]
	if subfunctionServices[req.Service] {
		if len(rest) < 1 {
			return Request{}, false
		}
		req.SuppressPositiveResponse = rest[0]&0x80 != 0
		req.Subfunction = rest[0] & 0x7F
		req.Data = rest[1:]
	} else {
		req.Data = rest
	}
	return req, true
}

func positiveResponse(service byte, data ...byte) []byte {
	return append([]byte{service + responseSIDOffset}, data...)
}

func negativeResponse(service, nrc byte) []byte {
	return []byte{negativeResponseSID, service, nrc}
}

// securityState tracks SecurityAccess progress for one session.
type securityState struct {
	unlockedLevel     byte // 0 = locked
	requestedLevel    byte
	issuedSeed        []byte
	attemptsRemaining int
	lockedUntil       time.Time
}

// SinkFactory creates the writer a download's TransferData blocks are
// appended to, given the requested memory address and size. The default
// factory discards the data — spec.md §4.7 leaves the sink unspecified
// ("interface is sink.write(bytes)"); a real ECU would return a file or
// flash-region writer here.
type SinkFactory func(address, size uint64) io.Writer

// Config configures a Dispatcher.
type Config struct {
	// KeyFunc computes SecurityAccess keys from seeds. Defaults to
	// IdentityKeyFunc.
	KeyFunc KeyFunc
	// SinkFactory builds the writer for an accepted download. Defaults to
	// io.Discard for every transfer.
	SinkFactory SinkFactory
	// StrictExitPolicy, when true, rejects RequestTransferExit with
	// NRCRequestSequenceError if bytes remain undelivered. When false
	// (lenient), exit is always accepted.
	StrictExitPolicy bool
}

// Dispatcher is the per-TCP-session UDS state machine: security access
// progress and the in-progress download (if any) both live here, scoped to
// exactly one connection, matching spec.md's "at-most-one active download
// per TCP session" invariant.
type Dispatcher struct {
	mu               sync.Mutex
	logger           *log.Entry
	keyFunc          KeyFunc
	sinkFactory      SinkFactory
	strictExitPolicy bool
	security         securityState
	transfer         *Transfer
}

// NewDispatcher returns a Dispatcher for a single session.
func NewDispatcher(logger *log.Entry, cfg Config) *Dispatcher {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IdentityKeyFunc
	}
	return &Dispatcher{
		logger:           logger,
		keyFunc:          cfg.KeyFunc,
		sinkFactory:      cfg.SinkFactory,
		strictExitPolicy: cfg.StrictExitPolicy,
		security: securityState{
			attemptsRemaining: SecurityAttemptsDefault,
		},
	}
}

// Handle dispatches one UDS request and returns the on-wire response bytes,
// or nil if the request's suppress-positive-response bit means no reply is
// due. Handle never returns an error: every failure mode is expressed as a
// negative UDS response, per spec.md §7.
func (d *Dispatcher) Handle(raw []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	req, ok := ParseRequest(raw)
	if !ok {
		return negativeResponse(0x00, NRCIncorrectMessageLength)
	}

	switch req.Service {
	case ServiceDiagnosticSessionControl:
		return d.sessionControl(req)
	case ServiceECUReset:
		return d.ecuReset(req)
	case ServiceSecurityAccess:
		return d.securityAccess(req)
	case ServiceTesterPresent:
		return d.testerPresent(req)
	case ServiceRoutineControl:
		return d.routineControl(req)
	case ServiceRequestDownload:
		return d.requestDownload(req)
	case ServiceTransferData:
		return d.transferData(req)
	case ServiceRequestTransferExit:
		return d.requestTransferExit(req)
	default:
		return negativeResponse(req.Service, NRCServiceNotSupported)
	}
}

func (d *Dispatcher) sessionControl(req Request) []byte {
	switch req.Subfunction {
	case SessionDefault, SessionProgramming, SessionExtended:
		if req.SuppressPositiveResponse {
			return nil
		}
		p2 := make([]byte, 2)
		p2Star := make([]byte, 2)
		p2[0], p2[1] = byte(P2ServerMs>>8), byte(P2ServerMs)
		p2StarTenMs := P2StarServerMs / 10
		p2Star[0], p2Star[1] = byte(p2StarTenMs>>8), byte(p2StarTenMs)
		return positiveResponse(ServiceDiagnosticSessionControl, append([]byte{req.Subfunction}, append(p2, p2Star...)...)...)
	default:
		return negativeResponse(ServiceDiagnosticSessionControl, NRCSubFunctionNotSupported)
	}
}

func (d *Dispatcher) ecuReset(req Request) []byte {
	switch req.Subfunction {
	case ResetHard, ResetKeyOffOn, ResetSoft:
		if req.SuppressPositiveResponse {
			return nil
		}
		return positiveResponse(ServiceECUReset, req.Subfunction)
	default:
		return negativeResponse(ServiceECUReset, NRCSubFunctionNotSupported)
	}
}

func (d *Dispatcher) testerPresent(req Request) []byte {
	if req.Subfunction != 0x00 {
		return negativeResponse(ServiceTesterPresent, NRCSubFunctionNotSupported)
	}
	if req.SuppressPositiveResponse {
		return nil
	}
	return positiveResponse(ServiceTesterPresent, 0x00)
}

func (d *Dispatcher) routineControl(req Request) []byte {
	switch req.Subfunction {
	case RoutineStart, RoutineStop, RoutineResults:
	default:
		return negativeResponse(ServiceRoutineControl, NRCSubFunctionNotSupported)
	}
	if len(req.Data) < 2 {
		return negativeResponse(ServiceRoutineControl, NRCIncorrectMessageLength)
	}
	routineID := req.Data[:2]
	if req.SuppressPositiveResponse {
		return nil
	}
	out := append([]byte{req.Subfunction}, routineID...)
	out = append(out, 0x00) // routine_status_record, implementation-defined
	return positiveResponse(ServiceRoutineControl, out...)
}

func newSeed() []byte {
	seed := make([]byte, 4)
	_, _ = rand.Read(seed)
	return seed
}
