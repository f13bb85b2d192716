package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream adapts a *websocket.Conn into an io.ReadWriteCloser for
// core/wire's byte-oriented framing: every Write is one binary
// message, and Read drains the current message's reader before
// fetching the next one. core/peerconn buffers bytes and decodes frames
// with wire.Decode, so it doesn't care where message boundaries fall,
// and multiple small writes
// can be coalesced into one read the same as a TCP stream would.
//
// Non-binary frames (text, ping/pong) never carry wire protocol bytes
// and are skipped rather than handed to the caller.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for s.reader == nil {
		mt, r, err := s.conn.NextReader()
		if err != nil {
			return 0, fmt.Errorf("transport: ws read: %w", err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		s.reader = r
	}

	n, err := s.reader.Read(p)
	if err == io.EOF {
		s.reader = nil
		err = nil
	}
	return n, err
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("transport: ws write: %w", err)
	}
	return len(p), nil
}

// Close sends a close handshake best-effort, then tears down the
// underlying connection; the handshake result is not reported since
// callers only care that the stream is gone.
func (s *wsStream) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
