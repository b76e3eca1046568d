// Package entity holds the DoIP entity's immutable identity — the data a
// vehicle announcement and a vehicle identification response are built
// from. It is loaded once at startup and never mutated afterward.
package entity

import "fmt"

// Identity is the DoIP node's identity, read-only for the lifetime of the
// process.
type Identity struct {
	VIN                   [17]byte
	LogicalAddress        uint16
	EID                   [6]byte
	GID                   [6]byte
	FurtherActionRequired byte
}

// New validates its inputs and returns an Identity. vin must be exactly 17
// ASCII bytes; eid and gid must be exactly 6 bytes each.
func New(vin string, logicalAddress uint16, eid, gid []byte, furtherActionRequired byte) (Identity, error) {
	var id Identity
	if len(vin) != 17 {
		return id, fmt.Errorf("entity: VIN must be 17 bytes, got %d", len(vin))
	}
	if len(eid) != 6 {
		return id, fmt.Errorf("entity: EID must be 6 bytes, got %d", len(eid))
	}
	if len(gid) != 6 {
		return id, fmt.Errorf("entity: GID must be 6 bytes, got %d", len(gid))
	}
	copy(id.VIN[:], vin)
	id.LogicalAddress = logicalAddress
	copy(id.EID[:], eid)
	copy(id.GID[:], gid)
	id.FurtherActionRequired = furtherActionRequired
	return id, nil
}

// MatchesEID reports whether selector equals this identity's EID.
func (id Identity) MatchesEID(selector [6]byte) bool { return id.EID == selector }

// MatchesVIN reports whether selector equals this identity's VIN.
func (id Identity) MatchesVIN(selector [17]byte) bool { return id.VIN == selector }
