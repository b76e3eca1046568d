package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseECUIdentityHexLogicalAddress(t *testing.T) {
	raw := []byte(`
ECU:
  vin: L6T7854Z4ND000050
  logicalAddress: "0x1000"
  eid: 010203040506
  gid: 060504030201
`)
	id, err := ParseECUIdentity(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1000), id.LogicalAddress)
	require.Equal(t, "L6T7854Z4ND000050", string(id.VIN[:]))
	require.Equal(t, [6]byte{1, 2, 3, 4, 5, 6}, id.EID)
}

func TestParseECUIdentityDecimalLogicalAddress(t *testing.T) {
	raw := []byte(`
ECU:
  vin: L6T7854Z4ND000050
  logicalAddress: "4096"
  eid: 010203040506
  gid: 060504030201
`)
	id, err := ParseECUIdentity(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(4096), id.LogicalAddress)
}

func TestParseECUIdentityRejectsBadVIN(t *testing.T) {
	raw := []byte(`
ECU:
  vin: TOO_SHORT
  logicalAddress: "0x1000"
  eid: 010203040506
  gid: 060504030201
`)
	_, err := ParseECUIdentity(raw)
	require.Error(t, err)
}
