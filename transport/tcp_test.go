package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPDialAccept(t *testing.T) {
	ln, err := ListenTCP(0)
	require.NoError(t, err)
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	serverConnCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		conn, err := ln.Accept(ctx)
		if err != nil {
			serverConnCh <- err
			return
		}
		_, err = conn.Write([]byte("hello"))
		serverConnCh <- err
	}()

	var tcp TCP
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	clientConn, err := tcp.Dial(ctx, "127.0.0.1", port)
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, <-serverConnCh)

	buf := make([]byte, 5)
	_, err = clientConn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestTCPAcceptRespectsContextCancellation(t *testing.T) {
	ln, err := ListenTCP(0)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ln.Accept(ctx)
	assert.Error(t, err)
}
