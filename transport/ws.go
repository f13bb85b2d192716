package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
)

// WS is a WebSocket transport for browser and WebView peers that
// cannot open raw TCP sockets.
type WS struct {
	Dialer websocket.Dialer
}

// Dial opens a WebSocket connection to ws://host:port/swiftdrop.
func (w WS) Dial(ctx context.Context, host string, port int) (io.ReadWriteCloser, error) {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: "/swiftdrop"}
	conn, _, err := w.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: ws dial %s: %w", u.String(), err)
	}
	return &wsStream{conn: conn}, nil
}

// WSListener accepts inbound WebSocket connections on a plain HTTP
// server; Accept blocks until the next peer upgrades.
type WSListener struct {
	addr     net.Addr
	upgrader websocket.Upgrader
	server   *http.Server
	incoming chan incomingWS
}

type incomingWS struct {
	conn *websocket.Conn
	err  error
}

// ListenWS binds an HTTP server on port that upgrades requests for the
// /swiftdrop path to a WebSocket and hands the resulting connection to
// Accept.
func ListenWS(port int) (*WSListener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("transport: ws listen on port %d: %w", port, err)
	}

	l := &WSListener{
		addr:     ln.Addr(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		incoming: make(chan incomingWS, 8),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/swiftdrop", func(w http.ResponseWriter, r *http.Request) {
		conn, err := l.upgrader.Upgrade(w, r, nil)
		l.incoming <- incomingWS{conn: conn, err: err}
	})
	l.server = &http.Server{Handler: mux}

	go l.server.Serve(ln)
	return l, nil
}

// Accept blocks until a peer upgrades to WebSocket or ctx is cancelled.
func (l *WSListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case in := <-l.incoming:
		if in.err != nil {
			return nil, fmt.Errorf("transport: ws upgrade: %w", in.err)
		}
		return &wsStream{conn: in.conn}, nil
	}
}

// Addr returns the listener's bound address.
func (l *WSListener) Addr() net.Addr {
	return l.addr
}

// Close shuts down the HTTP server.
func (l *WSListener) Close() error {
	return l.server.Close()
}
