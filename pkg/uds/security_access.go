package uds

import (
	"bytes"
	"time"
)

func securityLevel(subfunction byte) byte {
	return (subfunction + 1) / 2
}

func isSeedRequest(subfunction byte) bool { return subfunction%2 == 1 }

func (d *Dispatcher) securityAccess(req Request) []byte {
	now := time.Now()
	if now.Before(d.security.lockedUntil) {
		return negativeResponse(ServiceSecurityAccess, NRCExceedNumberOfAttempts)
	}

	if req.Subfunction == 0 {
		return negativeResponse(ServiceSecurityAccess, NRCSubFunctionNotSupported)
	}
	level := securityLevel(req.Subfunction)

	if isSeedRequest(req.Subfunction) {
		seed := newSeed()
		d.security.requestedLevel = level
		d.security.issuedSeed = seed
		if req.SuppressPositiveResponse {
			return nil
		}
		return positiveResponse(ServiceSecurityAccess, append([]byte{req.Subfunction}, seed...)...)
	}

	// Send-key half of the pair.
	if d.security.issuedSeed == nil || d.security.requestedLevel != level {
		return negativeResponse(ServiceSecurityAccess, NRCRequestSequenceError)
	}
	expected := d.keyFunc(level, d.security.issuedSeed)
	if !bytes.Equal(expected, req.Data) {
		d.security.attemptsRemaining--
		d.security.issuedSeed = nil
		if d.security.attemptsRemaining <= 0 {
			d.security.lockedUntil = now.Add(SecurityDelayTimer)
			d.security.attemptsRemaining = SecurityAttemptsDefault
			return negativeResponse(ServiceSecurityAccess, NRCExceedNumberOfAttempts)
		}
		return negativeResponse(ServiceSecurityAccess, NRCInvalidKey)
	}

	d.security.unlockedLevel = level
	d.security.issuedSeed = nil
	d.security.attemptsRemaining = SecurityAttemptsDefault
	if req.SuppressPositiveResponse {
		return nil
	}
	return positiveResponse(ServiceSecurityAccess, req.Subfunction)
}
