package main

import (
	"context"
	"io"
	"net"

	"github.com/gosuda/swiftdrop/transport"
)

// dialOnceListener adapts an outbound dial into the transport.Listener
// shape controller.Send expects ("wait for the receiver to connect"):
// the dial happens on the first Accept call, and the resulting stream
// is handed back as though a peer had connected to us. This lets the
// CLI's send command take an explicit --to host:port target rather
// than requiring the receiver to discover and dial the sender.
type dialOnceListener struct {
	dial func(ctx context.Context) (io.ReadWriteCloser, error)
	used bool
}

func dialOnce(dialer transport.Dialer, host string, port int) *dialOnceListener {
	return &dialOnceListener{dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
		return dialer.Dial(ctx, host, port)
	}}
}

func (l *dialOnceListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	if l.used {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	l.used = true
	return l.dial(ctx)
}

func (l *dialOnceListener) Addr() net.Addr { return dialOnceAddr{} }
func (l *dialOnceListener) Close() error   { return nil }

type dialOnceAddr struct{}

func (dialOnceAddr) Network() string { return "tcp" }
func (dialOnceAddr) String() string  { return "dial-once" }
