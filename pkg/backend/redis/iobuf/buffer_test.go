package iobuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFillAlwaysAtLeastProcessed(t *testing.T) {
	b := New(16)
	require.GreaterOrEqual(t, b.Fill(), b.Processed())

	b.Append([]byte("hello"))
	require.GreaterOrEqual(t, b.Fill(), b.Processed())

	b.Advance(3)
	require.GreaterOrEqual(t, b.Fill(), b.Processed())
}

func TestRewindAvailableByPreservesInvariant(t *testing.T) {
	b := New(16)
	b.Append([]byte("hello world"))
	b.Advance(5)

	fillBefore, procBefore := b.Fill(), b.Processed()
	b.RewindAvailableBy(3)

	require.Equal(t, fillBefore-3, b.Fill())
	require.Equal(t, procBefore-3, b.Processed())
	require.GreaterOrEqual(t, b.Fill(), b.Processed())
}

func TestUnprocessedAndEmpty(t *testing.T) {
	b := New(16)
	require.True(t, b.Empty())
	b.Append([]byte("ab"))
	require.False(t, b.Empty())
	require.Equal(t, 2, b.Unprocessed())
	b.Advance(2)
	require.True(t, b.Empty())
}

func TestResetClearsBothCursors(t *testing.T) {
	b := New(16)
	b.Append([]byte("abc"))
	b.Advance(1)
	b.Reset()
	require.Equal(t, 0, b.Fill())
	require.Equal(t, 0, b.Processed())
}

func TestCompactPreservesUnprocessedBytes(t *testing.T) {
	b := New(16)
	b.Append([]byte("abcdef"))
	b.Advance(4)
	b.Compact()
	require.Equal(t, "ef", string(b.UnprocessedSlice()))
	require.Equal(t, 0, b.Processed())
	require.Equal(t, 2, b.Fill())
}

func TestAppendPanicsWhenOverCapacity(t *testing.T) {
	b := New(4)
	require.Panics(t, func() {
		b.Append([]byte("too long"))
	})
}
