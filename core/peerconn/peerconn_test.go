package peerconn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/swiftdrop/core/wire"
)

func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	return New(a), New(b)
}

func TestSendWaitForRoundTrip(t *testing.T) {
	a, b := pipePair(t)
	defer a.Dispose()
	defer b.Dispose()

	_, err := a.Send(&wire.Cancel{})
	require.NoError(t, err)

	frame, err := b.WaitFor(func(f wire.Frame) bool { return f.Msg.Type() == wire.TypeCancel }, time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeCancel, frame.Msg.Type())
}

func TestSequenceNumbersMonotonic(t *testing.T) {
	a, b := pipePair(t)
	defer a.Dispose()
	defer b.Dispose()

	for i := 0; i < 5; i++ {
		_, err := a.Send(&wire.ChunkAck{Index: uint32(i)})
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		frame, err := b.WaitFor(func(f wire.Frame) bool { return f.Msg.Type() == wire.TypeChunkAck }, time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), frame.Seq)
	}
}

func TestWaitForTimeout(t *testing.T) {
	a, b := pipePair(t)
	defer a.Dispose()
	defer b.Dispose()

	_, err := b.WaitFor(func(wire.Frame) bool { return true }, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForPredicateSelectsMatchingFrame(t *testing.T) {
	a, b := pipePair(t)
	defer a.Dispose()
	defer b.Dispose()

	_, err := a.Send(&wire.ChunkAck{Index: 1})
	require.NoError(t, err)
	_, err = a.Send(&wire.ChunkNack{Index: 2, Code: wire.NackChecksum})
	require.NoError(t, err)

	frame, err := b.WaitFor(func(f wire.Frame) bool { return f.Msg.Type() == wire.TypeChunkNack }, time.Second)
	require.NoError(t, err)
	nack := frame.Msg.(*wire.ChunkNack)
	assert.Equal(t, uint32(2), nack.Index)

	// The earlier ACK remains buffered and is still delivered.
	frame, err = b.WaitFor(func(f wire.Frame) bool { return f.Msg.Type() == wire.TypeChunkAck }, time.Second)
	require.NoError(t, err)
	ack := frame.Msg.(*wire.ChunkAck)
	assert.Equal(t, uint32(1), ack.Index)
}

func TestDisposeFailsSubsequentWaitFor(t *testing.T) {
	a, b := pipePair(t)
	defer a.Dispose()

	require.NoError(t, b.Dispose())

	_, err := b.WaitFor(func(wire.Frame) bool { return true }, time.Second)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestRemoteCloseFailsWaitFor(t *testing.T) {
	a, b := pipePair(t)
	defer b.Dispose()

	require.NoError(t, a.Dispose())

	_, err := b.WaitFor(func(wire.Frame) bool { return true }, time.Second)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestPartialFramesBufferAcrossReads(t *testing.T) {
	server, client := net.Pipe()
	conn := New(client)
	defer conn.Dispose()

	msg := &wire.FileMeta{Name: "report.pdf", Size: 99, ChunkSize: 10, ChunkCount: 10, Checksum: make([]byte, 32)}
	encoded := wire.Encode(0, msg)

	done := make(chan error, 1)
	go func() {
		// Write byte-by-byte to force partial frames across reads.
		for _, b := range encoded {
			if _, err := server.Write([]byte{b}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	frame, err := conn.WaitFor(func(f wire.Frame) bool { return f.Msg.Type() == wire.TypeFileMeta }, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, <-done)
	got := frame.Msg.(*wire.FileMeta)
	assert.Equal(t, "report.pdf", got.Name)
}
