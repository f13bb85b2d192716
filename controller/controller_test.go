package controller

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/swiftdrop/core/chunker"
	"github.com/gosuda/swiftdrop/transfer"
	"github.com/gosuda/swiftdrop/transport"
)

type stubIdentity struct{}

func (stubIdentity) DisplayName() string { return "test-device" }
func (stubIdentity) ShortID() string     { return "testid01" }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

// fakeListener implements transport.Listener without opening a real
// socket: tests hand it a connection directly via deliver.
type fakeListener struct {
	ch     chan io.ReadWriteCloser
	closed chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan io.ReadWriteCloser, 1), closed: make(chan struct{})}
}

func (l *fakeListener) deliver(c io.ReadWriteCloser) { l.ch <- c }

func (l *fakeListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, errors.New("fakeListener: closed")
	case c := <-l.ch:
		return c, nil
	}
}

func (l *fakeListener) Addr() net.Addr { return fakeAddr{} }

func (l *fakeListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

var _ transport.Listener = (*fakeListener)(nil)

type alwaysRejectFactory struct{}

func (alwaysRejectFactory) OnIncomingOffer(string, chunker.FilePrep) (transfer.Sink, bool) {
	return nil, false
}

func TestSendEnforcesConcurrencyCapPerDirection(t *testing.T) {
	orig := AcceptWait
	AcceptWait = 50 * time.Millisecond
	defer func() { AcceptWait = orig }()

	c := New(stubIdentity{}, 2, zerolog.Nop())

	blockingListener := func() (transport.Listener, error) {
		return newFakeListener(), nil
	}

	id1, err := c.Send(blockingListener, "peer-a", "/tmp/a.bin")
	require.NoError(t, err)
	id2, err := c.Send(blockingListener, "peer-b", "/tmp/b.bin")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = c.Send(blockingListener, "peer-c", "/tmp/c.bin")
	assert.ErrorIs(t, err, ErrAtCapacity)

	// Let both pending accepts time out so the test doesn't leak
	// goroutines past its own lifetime.
	time.Sleep(200 * time.Millisecond)
}

func TestCancelReachesTerminalState(t *testing.T) {
	orig := AcceptWait
	AcceptWait = time.Second
	defer func() { AcceptWait = orig }()

	c := New(stubIdentity{}, 3, zerolog.Nop())

	ln := newFakeListener()
	id, err := c.Send(func() (transport.Listener, error) { return ln, nil }, "peer-a", "/tmp/a.bin")
	require.NoError(t, err)

	// No peer ever connects; cancel before the accept times out.
	c.Cancel(id)

	deadline := time.After(2 * time.Second)
	for {
		snap := c.Snapshot()
		var rec *Record
		for i := range snap {
			if snap[i].ID == id {
				rec = &snap[i]
			}
		}
		require.NotNil(t, rec)
		if rec.State.IsTerminal() {
			assert.Equal(t, transfer.StateCancelled, rec.State)
			return
		}
		select {
		case <-deadline:
			t.Fatal("record never reached a terminal state after cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCancelIsIdempotentOnUnknownID(t *testing.T) {
	c := New(stubIdentity{}, 1, zerolog.Nop())
	assert.NotPanics(t, func() { c.Cancel("does-not-exist") })
}

func TestRemoveIsNoOpOnActiveRecord(t *testing.T) {
	orig := AcceptWait
	AcceptWait = time.Second
	defer func() { AcceptWait = orig }()

	c := New(stubIdentity{}, 1, zerolog.Nop())
	ln := newFakeListener()
	id, err := c.Send(func() (transport.Listener, error) { return ln, nil }, "peer-a", "/tmp/a.bin")
	require.NoError(t, err)

	c.Remove(id)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, id, snap[0].ID)
}

func TestReceiveRejectsAboveCapacity(t *testing.T) {
	c := New(stubIdentity{}, 0, zerolog.Nop())
	ln := newFakeListener()
	c.Receive(context.Background(), ln, alwaysRejectFactory{})

	serverConn, clientConn := net.Pipe()
	ln.deliver(serverConn)

	buf := make([]byte, 256)
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestClearFinishedDropsOnlyTerminalRecords(t *testing.T) {
	orig := AcceptWait
	AcceptWait = 50 * time.Millisecond
	defer func() { AcceptWait = orig }()

	c := New(stubIdentity{}, 2, zerolog.Nop())

	// idActive's peer connects (so its session moves into
	// handshaking and stays non-terminal), idTimedOut's never does.
	active := newFakeListener()
	serverSide, clientSide := net.Pipe()
	active.deliver(serverSide)
	t.Cleanup(func() { clientSide.Close() })
	idActive, err := c.Send(func() (transport.Listener, error) { return active, nil }, "peer-a", "/tmp/a.bin")
	require.NoError(t, err)

	timedOut := newFakeListener()
	idTimedOut, err := c.Send(func() (transport.Listener, error) { return timedOut, nil }, "peer-b", "/tmp/b.bin")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, r := range c.Snapshot() {
			if r.ID == idTimedOut {
				return r.State.IsTerminal()
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	c.ClearFinished()

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, idActive, snap[0].ID)
}
