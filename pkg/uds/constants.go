// Package uds implements the server side of the Unified Diagnostic
// Services subset named in spec.md §6: session control, ECU reset, security
// access, tester present, routine control, and the request-download /
// transfer-data / request-transfer-exit sequence used for firmware
// transfer.
package uds

import "time"

// Service identifiers.
const (
	ServiceDiagnosticSessionControl byte = 0x10
	ServiceECUReset                 byte = 0x11
	ServiceSecurityAccess            byte = 0x27
	ServiceRoutineControl            byte = 0x31
	ServiceRequestDownload           byte = 0x34
	ServiceTransferData              byte = 0x36
	ServiceRequestTransferExit        byte = 0x37
	ServiceTesterPresent             byte = 0x3E
)

// responseSIDOffset is added to a service id to form its positive response
// SID (ISO 14229-1 §7.5).
const responseSIDOffset = 0x40

const negativeResponseSID = 0x7F

// Negative response codes used by this entity.
const (
	NRCGeneralReject                    byte = 0x10
	NRCServiceNotSupported              byte = 0x11
	NRCSubFunctionNotSupported          byte = 0x12
	NRCIncorrectMessageLength           byte = 0x13
	NRCConditionsNotCorrect             byte = 0x22
	NRCRequestSequenceError             byte = 0x24
	NRCRequestOutOfRange                byte = 0x31
	NRCSecurityAccessDenied             byte = 0x33
	NRCInvalidKey                       byte = 0x35
	NRCExceedNumberOfAttempts           byte = 0x36
	NRCTransferDataSuspended            byte = 0x71
	NRCGeneralProgrammingFailure        byte = 0x72
	NRCWrongBlockSequenceCounter        byte = 0x73
	NRCRequestCorrectlyReceivedPending  byte = 0x78
	NRCSubFunctionNotSupportedInSession byte = 0x7E
	NRCServiceNotSupportedInSession     byte = 0x7F
)

// Diagnostic session control subfunctions.
const (
	SessionDefault     byte = 0x01
	SessionProgramming byte = 0x02
	SessionExtended    byte = 0x03
)

// P2/P2* server timing, milliseconds, ISO 14229-1 (spec.md §4.6).
const (
	P2ServerMs  uint16 = 50
	P2StarServerMs uint16 = 5000
)

// ECU reset subfunctions.
const (
	ResetHard      byte = 0x01
	ResetKeyOffOn  byte = 0x02
	ResetSoft      byte = 0x03
)

// Routine control subfunctions.
const (
	RoutineStart   byte = 0x01
	RoutineStop    byte = 0x02
	RoutineResults byte = 0x03
)

// SecurityAttemptsDefault is the number of wrong-key attempts allowed before
// the delay timer engages.
const SecurityAttemptsDefault = 3

// SecurityDelayTimer is how long a session is locked out of SecurityAccess
// after exhausting its attempts.
const SecurityDelayTimer = 10 * time.Second

// MaxNumberOfBlockLength is the maximum user-data length (including the
// block-sequence-counter byte) this entity will accept per TransferData
// block.
const MaxNumberOfBlockLength = 4096

// lengthFormatIdentifier is the fixed nibble this entity always uses when
// reporting MaxNumberOfBlockLength (a 2-byte value).
const lengthFormatIdentifier = 0x20
