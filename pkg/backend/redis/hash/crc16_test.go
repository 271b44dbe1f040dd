package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC16KnownVector(t *testing.T) {
	require.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
}

func TestSlotModuloKnownVector(t *testing.T) {
	slot, err := Slot([]byte("123456789"))
	require.NoError(t, err)
	require.Equal(t, 0x31C3%NumSlots, slot)
}

func TestSlotToleratesEmbeddedNul(t *testing.T) {
	key := []byte{'a', 0, 'b'}
	slot, err := Slot(key)
	require.NoError(t, err)
	require.GreaterOrEqual(t, slot, 0)
	require.Less(t, slot, NumSlots)

	// Confirm length-driven behaviour: truncating at the NUL would hash
	// differently than treating it as data.
	truncated, err := Slot([]byte{'a'})
	require.NoError(t, err)
	require.NotEqual(t, truncated, slot)
}

func TestSlotEmptyKeyIsInvalid(t *testing.T) {
	_, err := Slot(nil)
	require.ErrorIs(t, err, ErrEmptyKey)

	_, err = Slot([]byte{})
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestSlotTooLong(t *testing.T) {
	key := make([]byte, MaxKeyLen+1)
	_, err := Slot(key)
	require.ErrorIs(t, err, ErrKeyTooLong)
}

func TestSlotWithinRange(t *testing.T) {
	for _, k := range [][]byte{[]byte("foo"), []byte("bar"), []byte("{user1000}.following")} {
		slot, err := Slot(k)
		require.NoError(t, err)
		require.GreaterOrEqual(t, slot, 0)
		require.Less(t, slot, NumSlots)
	}
}
