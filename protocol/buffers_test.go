package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})
	require.Equal(t, 5, buf.Available())

	buf.Pop(2)
	require.Equal(t, []byte{3, 4, 5}, buf.Data())

	buf.Pop(10)
	require.Zero(t, buf.Available())
}

func TestScratchOutput(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output([]byte{1, 2, 3})
	scratch.Output([]byte{4, 5})
	require.Equal(t, 5, scratch.CurPosition())

	scratch.Update(0, 99)
	scratch.Update(7, 99)
	require.Equal(t, []byte{99, 2, 3, 4, 5}, scratch.Result())
	require.Equal(t, []byte{3, 4, 5}, scratch.DataSince(2))
	require.Nil(t, scratch.DataSince(6))
	require.False(t, scratch.Overflowed())

	scratch.Reset()
	require.Zero(t, scratch.CurPosition())
}

func TestScratchOutputOverflow(t *testing.T) {
	scratch := NewScratchOutput()
	scratch.Output(make([]byte, MessageMax-1))
	scratch.Output([]byte{1, 2})
	require.Equal(t, MessageMax, scratch.CurPosition())
	require.True(t, scratch.Overflowed())

	scratch.Reset()
	require.False(t, scratch.Overflowed())
}

func TestRxBuffer(t *testing.T) {
	rx := NewRxBuffer(8)
	require.True(t, rx.Empty())

	require.Equal(t, 5, rx.Write([]byte{1, 2, 3, 4, 5}))
	require.Equal(t, 3, rx.Free())

	rx.Pop(2)
	require.Equal(t, []byte{3, 4, 5}, rx.Data())

	// Popped space is usable again and the data stays contiguous.
	require.Equal(t, 5, rx.Write([]byte{6, 7, 8, 9, 10, 11}))
	require.Equal(t, []byte{3, 4, 5, 6, 7, 8, 9, 10}, rx.Data())
	require.Zero(t, rx.Free())

	rx.Pop(100)
	require.True(t, rx.Empty())
}
