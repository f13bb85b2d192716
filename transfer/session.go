package transfer

import (
	"context"
	"time"

	"github.com/gosuda/swiftdrop/core/peerconn"
	"github.com/gosuda/swiftdrop/core/wire"
)

// waitForOrCancel blocks until a frame matching predicate or a CANCEL
// frame arrives, or ctx is cancelled (in which case a CANCEL is sent
// best-effort and ErrCancelled is returned). A received CANCEL frame
// also yields ErrCancelled.
func waitForOrCancel(ctx context.Context, conn *peerconn.Conn, predicate peerconn.Predicate, timeout time.Duration) (wire.Frame, error) {
	combined := func(f wire.Frame) bool {
		return f.Msg.Type() == wire.TypeCancel || predicate(f)
	}

	type result struct {
		frame wire.Frame
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		f, err := conn.WaitFor(combined, timeout)
		resCh <- result{f, err}
	}()

	select {
	case <-ctx.Done():
		conn.Send(&wire.Cancel{})
		return wire.Frame{}, ErrCancelled
	case r := <-resCh:
		if r.err != nil {
			return wire.Frame{}, r.err
		}
		if r.frame.Msg.Type() == wire.TypeCancel {
			return r.frame, ErrCancelled
		}
		return r.frame, nil
	}
}
