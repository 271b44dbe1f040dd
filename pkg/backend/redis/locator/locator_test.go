package locator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupAfterAssign(t *testing.T) {
	l := New()
	require.Equal(t, Unmapped, l.Lookup(5))
	l.Assign(5, 3)
	require.Equal(t, 3, l.Lookup(5))
}

func TestReassociateRewritesExactlyBoundSlots(t *testing.T) {
	l := New()
	l.Assign(1, 10)
	l.Assign(2, 10)
	l.Assign(3, 20)

	changed := l.Reassociate(10, 99)
	require.Equal(t, 2, changed)
	require.Equal(t, 99, l.Lookup(1))
	require.Equal(t, 99, l.Lookup(2))
	require.Equal(t, 20, l.Lookup(3))
}

func TestReassociateFromUnmappedFillsHoles(t *testing.T) {
	l := New()
	l.Assign(0, 1)
	require.False(t, l.FullyCovered())

	changed := l.Reassociate(Unmapped, 1)
	require.Equal(t, NumSlots-1, changed)
	require.True(t, l.FullyCovered())
}

func TestReassociateToUnmappedInvalidatesCoverage(t *testing.T) {
	l := New()
	l.Reassociate(Unmapped, 1)
	require.True(t, l.FullyCovered())

	changed := l.Reassociate(1, Unmapped)
	require.Equal(t, NumSlots, changed)
	require.False(t, l.FullyCovered())
	require.Equal(t, Unmapped, l.Lookup(0))
}

func TestRemoveClearsCoverage(t *testing.T) {
	l := New()
	l.Reassociate(Unmapped, 1)
	require.True(t, l.FullyCovered())

	l.Remove(42)
	require.Equal(t, Unmapped, l.Lookup(42))
	require.False(t, l.FullyCovered())
}
