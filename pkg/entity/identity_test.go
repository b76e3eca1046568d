package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsWrongLengthFields(t *testing.T) {
	_, err := New("TOOSHORT", 0x1000, []byte{1, 2, 3, 4, 5, 6}, []byte{6, 5, 4, 3, 2, 1}, 0)
	require.Error(t, err)

	_, err = New("L6T7854Z4ND000050", 0x1000, []byte{1, 2, 3}, []byte{6, 5, 4, 3, 2, 1}, 0)
	require.Error(t, err)

	_, err = New("L6T7854Z4ND000050", 0x1000, []byte{1, 2, 3, 4, 5, 6}, []byte{6, 5, 4}, 0)
	require.Error(t, err)
}

func TestMatchesEIDAndVIN(t *testing.T) {
	id, err := New("L6T7854Z4ND000050", 0x1000, []byte{1, 2, 3, 4, 5, 6}, []byte{6, 5, 4, 3, 2, 1}, 0)
	require.NoError(t, err)

	require.True(t, id.MatchesEID([6]byte{1, 2, 3, 4, 5, 6}))
	require.False(t, id.MatchesEID([6]byte{9, 9, 9, 9, 9, 9}))

	var vin [17]byte
	copy(vin[:], "L6T7854Z4ND000050")
	require.True(t, id.MatchesVIN(vin))
}
