package main

import (
	"fmt"

	"github.com/gosuda/swiftdrop/transport"
)

// dialerFor resolves --transport to a concrete transport.Dialer.
func dialerFor(name string) (transport.Dialer, error) {
	switch name {
	case "tcp":
		return transport.TCP{}, nil
	case "ws":
		return transport.WS{}, nil
	default:
		return nil, fmt.Errorf("unknown --transport %q (want tcp or ws)", name)
	}
}

// listenerFor resolves --transport to a transport.Listener bound on port.
func listenerFor(name string, port int) (transport.Listener, error) {
	switch name {
	case "tcp":
		return transport.ListenTCP(port)
	case "ws":
		return transport.ListenWS(port)
	default:
		return nil, fmt.Errorf("unknown --transport %q (want tcp or ws)", name)
	}
}
