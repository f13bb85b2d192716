// Package peerconn adapts a reliable ordered byte stream
// (io.ReadWriteCloser) into a sequence of decoded wire.Frame values: it
// buffers arriving bytes, greedily extracts complete frames, assigns
// monotonically increasing sequence numbers to outgoing sends, and
// exposes a predicate-based wait for incoming messages.
package peerconn

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gosuda/swiftdrop/core/wire"
)

// ErrConnectionClosed is returned by WaitFor and Send once the
// connection has been disposed locally or half-closed remotely.
var ErrConnectionClosed = errors.New("peerconn: connection closed")

// ErrTimeout is returned by WaitFor when no matching message arrives
// before the deadline.
var ErrTimeout = errors.New("peerconn: timeout waiting for message")

// Predicate reports whether a frame is the one a caller is waiting for.
type Predicate func(wire.Frame) bool

// Conn wraps a byte-stream connection with frame buffering, sequenced
// sends, and a wait_for operation. The zero value is not usable; use
// New.
type Conn struct {
	stream io.ReadWriteCloser

	writeMu sync.Mutex
	sendSeq uint32

	mu       sync.Mutex
	pending  []wire.Frame
	closed   bool
	closeErr error
	notifyCh chan struct{}
}

// New starts reading frames from stream in a background goroutine and
// returns a ready-to-use Conn.
func New(stream io.ReadWriteCloser) *Conn {
	c := &Conn{
		stream:   stream,
		notifyCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send encodes msg with the next sequence number (assigned in send
// order, starting at zero) and writes it to the underlying stream. The
// returned sequence number exists for tracing only; peers do not rely
// on it for correctness.
func (c *Conn) Send(msg wire.Message) (uint32, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrConnectionClosed
	}

	seq := c.sendSeq
	c.sendSeq++
	encoded := wire.Encode(seq, msg)
	if _, err := c.stream.Write(encoded); err != nil {
		return seq, fmt.Errorf("peerconn: write: %w", err)
	}
	return seq, nil
}

// WaitFor blocks until a buffered or newly arriving frame matches
// predicate, then returns it, removing it from the buffer. It fails
// with ErrTimeout if no match arrives within timeout, or with
// ErrConnectionClosed if the connection closes (locally or remotely)
// before a match is found. Frames already buffered before closure are
// still delivered — only calls made after the buffer is exhausted of
// matches observe the closed error.
func (c *Conn) WaitFor(predicate Predicate, timeout time.Duration) (wire.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		for i, f := range c.pending {
			if predicate(f) {
				c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
				c.mu.Unlock()
				return f, nil
			}
		}
		if c.closed {
			err := c.closeErr
			c.mu.Unlock()
			return wire.Frame{}, err
		}
		ch := c.notifyCh
		c.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-timer.C:
			return wire.Frame{}, ErrTimeout
		}
	}
}

// Dispose closes the underlying stream and fails any subsequent
// WaitFor calls with ErrConnectionClosed. Safe to call more than once.
func (c *Conn) Dispose() error {
	c.markClosed(ErrConnectionClosed)
	return c.stream.Close()
}

// readLoop owns the receive buffer: it appends arriving bytes and
// greedily extracts complete frames, one read may yield zero, one, or
// many messages.
func (c *Conn) readLoop() {
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)

	for {
		n, err := c.stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				frame, consumed, derr := wire.Decode(buf)
				if derr == wire.ErrIncomplete {
					break
				}
				if derr != nil {
					c.markClosed(fmt.Errorf("%w: %v", ErrConnectionClosed, derr))
					return
				}
				buf = buf[consumed:]
				c.push(frame)
			}
		}
		if err != nil {
			c.markClosed(ErrConnectionClosed)
			return
		}
	}
}

func (c *Conn) push(frame wire.Frame) {
	c.mu.Lock()
	c.pending = append(c.pending, frame)
	c.wakeLocked()
	c.mu.Unlock()
}

func (c *Conn) markClosed(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	c.wakeLocked()
	c.mu.Unlock()
}

// wakeLocked must be called with c.mu held; it wakes every goroutine
// blocked in WaitFor's select.
func (c *Conn) wakeLocked() {
	close(c.notifyCh)
	c.notifyCh = make(chan struct{})
}
