package msgbuf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskrt/internal/msgbuf"
)

func TestBufferFIFOAndBound(t *testing.T) {
	b := msgbuf.New(2, 2)
	require.True(t, b.Push([]byte{1, 1}))
	require.True(t, b.Push([]byte{2, 2}))
	require.False(t, b.Push([]byte{3, 3}), "buffer at capacity must reject")
	require.True(t, b.Full())

	var dst [2]byte
	require.True(t, b.Pop(dst[:]))
	require.Equal(t, []byte{1, 1}, dst[:])
	require.False(t, b.Full())

	require.True(t, b.Pop(dst[:]))
	require.Equal(t, []byte{2, 2}, dst[:])
	require.False(t, b.Peek())
	require.False(t, b.Pop(dst[:]))
}

func TestBufferUnboundedAcceptsAnyLength(t *testing.T) {
	b := msgbuf.New(1, 0)
	for i := 0; i < 500; i++ {
		require.True(t, b.Push([]byte{byte(i)}))
	}
	require.Equal(t, 500, b.Len())
}
