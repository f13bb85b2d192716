// Package transport supplies concrete byte-stream factories for the
// controller: a plain TCP transport for LAN peers and a WebSocket
// transport for browser/WebView peers. Both produce a
// io.ReadWriteCloser suitable for core/peerconn, so the controller and
// the session packages never depend on net or gorilla/websocket
// directly.
package transport

import (
	"context"
	"io"
	"net"
)

// Dialer connects to a remote peer and returns a byte stream.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (io.ReadWriteCloser, error)
}

// Listener accepts inbound peer connections.
type Listener interface {
	Accept(ctx context.Context) (io.ReadWriteCloser, error)
	Addr() net.Addr
	Close() error
}
