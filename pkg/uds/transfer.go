package uds

import "io"

// Transfer tracks one in-progress RequestDownload/TransferData sequence, as
// described in spec.md §4.7. It is owned exclusively by the Dispatcher that
// created it — never shared across sessions.
type Transfer struct {
	memoryAddress      uint64
	remainingBytes      uint64
	maxBlockLength      int
	expectedCounter     byte // next counter this entity will accept
	lastAcceptedCounter byte
	haveAccepted        bool
	sink                io.Writer
}

// decodeAALFI splits an addressAndLengthFormatIdentifier byte into the byte
// counts of the memoryAddress (high nibble) and memorySize (low nibble)
// fields that follow it.
func decodeAALFI(b byte) (addressBytes, sizeBytes int) {
	return int(b >> 4), int(b & 0x0F)
}

func beToUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func (d *Dispatcher) requestDownload(req Request) []byte {
	if d.transfer != nil {
		return negativeResponse(ServiceRequestDownload, NRCRequestSequenceError)
	}
	if len(req.Data) < 2 {
		return negativeResponse(ServiceRequestDownload, NRCIncorrectMessageLength)
	}
	aalfi := req.Data[1]
	addressBytes, sizeBytes := decodeAALFI(aalfi)
	want := 2 + addressBytes + sizeBytes
	if len(req.Data) < want {
		return negativeResponse(ServiceRequestDownload, NRCIncorrectMessageLength)
	}
	address := beToUint64(req.Data[2 : 2+addressBytes])
	size := beToUint64(req.Data[2+addressBytes : want])

	sink := d.sinkFactory
	var w io.Writer = io.Discard
	if sink != nil {
		w = sink(address, size)
	}

	d.transfer = &Transfer{
		memoryAddress:   address,
		remainingBytes:  size,
		maxBlockLength:  MaxNumberOfBlockLength,
		expectedCounter: 0x01,
		sink:            w,
	}

	maxLen := uint16(d.transfer.maxBlockLength)
	return positiveResponse(ServiceRequestDownload, lengthFormatIdentifier, byte(maxLen>>8), byte(maxLen))
}

func (d *Dispatcher) transferData(req Request) []byte {
	t := d.transfer
	if t == nil {
		return negativeResponse(ServiceTransferData, NRCRequestSequenceError)
	}
	if len(req.Data) < 1 {
		return negativeResponse(ServiceTransferData, NRCIncorrectMessageLength)
	}
	counter := req.Data[0]
	blockData := req.Data[1:]

	if len(req.Data) > t.maxBlockLength {
		return negativeResponse(ServiceTransferData, NRCTransferDataSuspended)
	}

	if t.haveAccepted && counter == t.lastAcceptedCounter {
		// Idempotent retransmission: acknowledge without mutating state.
		return positiveResponse(ServiceTransferData, counter)
	}

	if counter != t.expectedCounter {
		return negativeResponse(ServiceTransferData, NRCWrongBlockSequenceCounter)
	}

	if _, err := t.sink.Write(blockData); err != nil {
		return negativeResponse(ServiceTransferData, NRCGeneralProgrammingFailure)
	}
	if uint64(len(blockData)) > t.remainingBytes {
		t.remainingBytes = 0
	} else {
		t.remainingBytes -= uint64(len(blockData))
	}
	t.lastAcceptedCounter = counter
	t.haveAccepted = true
	t.expectedCounter = counter + 1 // wraps 0xFF -> 0x00 by byte overflow

	return positiveResponse(ServiceTransferData, counter)
}

func (d *Dispatcher) requestTransferExit(req Request) []byte {
	t := d.transfer
	if t == nil {
		return negativeResponse(ServiceRequestTransferExit, NRCRequestSequenceError)
	}
	if t.remainingBytes > 0 && d.strictExitPolicy {
		return negativeResponse(ServiceRequestTransferExit, NRCRequestSequenceError)
	}
	d.transfer = nil
	return positiveResponse(ServiceRequestTransferExit)
}

// ActiveTransfer reports whether a download is currently in progress, for
// diagnostics/logging at the session layer.
func (d *Dispatcher) ActiveTransfer() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transfer != nil
}
