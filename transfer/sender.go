package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gosuda/swiftdrop/core/chunker"
	"github.com/gosuda/swiftdrop/core/cryptoops"
	"github.com/gosuda/swiftdrop/core/peerconn"
	"github.com/gosuda/swiftdrop/core/wire"
)

// Sender drives the sender half of a transfer over an already-connected
// peerconn.Conn.
type Sender struct {
	conn      *peerconn.Conn
	deviceID  string
	name      string
	filePath  string
	update    UpdateFunc
	ChunkSize uint32 // zero means DefaultChunkSize
}

// NewSender returns a Sender ready to Run. deviceID/name identify this
// device in the handshake; filePath is the file to send.
func NewSender(conn *peerconn.Conn, deviceID, name, filePath string, update UpdateFunc) *Sender {
	return &Sender{conn: conn, deviceID: deviceID, name: name, filePath: filePath, update: update}
}

func (s *Sender) chunkSize() uint32 {
	if s.ChunkSize == 0 {
		return DefaultChunkSize
	}
	return s.ChunkSize
}

func (s *Sender) emit(u Update) {
	if s.update != nil {
		s.update(u)
	}
}

// Run executes the full sender flow to completion, cancellation, or
// failure. It always returns after the session reaches a terminal
// state; the terminal Update has already been emitted by the time Run
// returns.
func (s *Sender) Run(ctx context.Context) error {
	s.emit(Update{State: StateHandshaking})

	kp, err := cryptoops.GenerateKeyPair()
	if err != nil {
		return s.fail(fmt.Errorf("transfer: generate key pair: %w", err))
	}

	if _, err := s.conn.Send(wire.NewHandshakeInit(ProtocolVersion, kp.PublicKey(), s.name, s.deviceID)); err != nil {
		return s.fail(fmt.Errorf("transfer: send handshake init: %w", err))
	}

	frame, err := waitForOrCancel(ctx, s.conn, func(f wire.Frame) bool {
		t := f.Msg.Type()
		return t == wire.TypeHandshakeReply || t == wire.TypeError
	}, HandshakeReplyTimeout)
	if err != nil {
		return s.terminal(err)
	}
	if errMsg, ok := frame.Msg.(*wire.ErrorMsg); ok {
		return s.fail(fmt.Errorf("transfer: peer error %d: %s", errMsg.Code, errMsg.Msg))
	}
	reply := frame.Msg.(*wire.HandshakeInit)
	if reply.Version < MinProtocolVersion || reply.Version > ProtocolVersion {
		s.conn.Send(&wire.ErrorMsg{Code: wire.ErrCodeVersionMismatch, Msg: fmt.Sprintf("peer advertised v%d", reply.Version)})
		return s.fail(fmt.Errorf("%w: peer advertised v%d", ErrVersionMismatch, reply.Version))
	}

	secret, err := kp.ComputeSharedSecret(reply.PublicKey)
	if err != nil {
		return s.fail(fmt.Errorf("transfer: compute shared secret: %w", err))
	}
	sessionKey, err := cryptoops.DeriveSessionKey(secret)
	if err != nil {
		return s.fail(fmt.Errorf("transfer: derive session key: %w", err))
	}
	pairingHash := cryptoops.PairingHash(secret)

	if _, err := s.conn.Send(&wire.HandshakeConfirm{Hash: pairingHash}); err != nil {
		return s.fail(fmt.Errorf("transfer: send handshake confirm: %w", err))
	}

	// The sender does not byte-compare the peer's confirm hash: the
	// receiver is authoritative and aborts on mismatch. Any confirm
	// (or cancel) unblocks the sender.
	_, err = waitForOrCancel(ctx, s.conn, func(f wire.Frame) bool {
		return f.Msg.Type() == wire.TypeHandshakeConfirm
	}, ConfirmTimeout)
	if err != nil {
		return s.terminal(err)
	}

	s.emit(Update{State: StateAwaitingAccept})

	prep, err := chunker.Prepare(s.filePath, s.chunkSize())
	if err != nil {
		return s.fail(fmt.Errorf("transfer: prepare file: %w", err))
	}
	meta := &wire.FileMeta{
		Name:       prep.Name,
		Size:       prep.Size,
		ChunkSize:  prep.ChunkSize,
		ChunkCount: prep.ChunkCount,
		Checksum:   append([]byte(nil), prep.Checksum[:]...),
	}
	if _, err := s.conn.Send(meta); err != nil {
		return s.fail(fmt.Errorf("transfer: send file meta: %w", err))
	}

	frame, err = waitForOrCancel(ctx, s.conn, func(f wire.Frame) bool {
		t := f.Msg.Type()
		return t == wire.TypeFileAccept || t == wire.TypeFileReject
	}, FileAcceptTimeout)
	if err != nil {
		return s.terminal(err)
	}
	if reject, ok := frame.Msg.(*wire.FileReject); ok {
		return s.cancel(fmt.Sprintf("rejected: %s", reject.Reason))
	}

	s.emit(Update{State: StateTransferring, ChunksTotal: prep.ChunkCount})

	reader, err := chunker.NewReader(s.filePath, prep.ChunkSize)
	if err != nil {
		return s.fail(fmt.Errorf("transfer: open file for streaming: %w", err))
	}
	defer reader.Close()

	var completed uint32
	for {
		idx, data, digest, ok, err := reader.Next()
		if err != nil {
			return s.fail(fmt.Errorf("transfer: read chunk: %w", err))
		}
		if !ok {
			break
		}

		retries, err := s.sendChunkWithRetries(ctx, sessionKey, idx, data, digest, prep.ChunkSize)
		if err != nil {
			return s.terminal(err)
		}

		completed++
		s.emit(Update{State: StateTransferring, ChunksCompleted: completed, ChunksTotal: prep.ChunkCount, Retries: retries})
	}

	if _, err := s.conn.Send(&wire.TransferComplete{TotalChunks: prep.ChunkCount}); err != nil {
		return s.fail(fmt.Errorf("transfer: send transfer complete: %w", err))
	}

	s.emit(Update{State: StateVerifying, ChunksCompleted: completed, ChunksTotal: prep.ChunkCount})

	frame, err = waitForOrCancel(ctx, s.conn, func(f wire.Frame) bool {
		t := f.Msg.Type()
		return t == wire.TypeTransferVerified || t == wire.TypeError
	}, TransferVerifiedTimeout)
	if err != nil {
		return s.terminal(err)
	}
	if errMsg, ok := frame.Msg.(*wire.ErrorMsg); ok {
		return s.fail(fmt.Errorf("transfer: peer error %d: %s", errMsg.Code, errMsg.Msg))
	}

	s.emit(Update{State: StateCompleted, ChunksCompleted: completed, ChunksTotal: prep.ChunkCount})
	return nil
}

// sendChunkWithRetries encrypts and sends chunk idx, then awaits its
// ACK/NACK, retrying with a fresh IV and re-read plaintext up to
// MaxChunkRetries times on NACK. It returns the number of retries
// actually spent before the chunk was acknowledged.
func (s *Sender) sendChunkWithRetries(ctx context.Context, sessionKey []byte, idx uint32, data []byte, digest [32]byte, chunkSize uint32) (int, error) {
	retries := 0
	for {
		iv, ciphertext, tag, err := cryptoops.EncryptChunk(sessionKey, data, nil)
		if err != nil {
			return retries, fmt.Errorf("transfer: encrypt chunk %d: %w", idx, err)
		}
		msg := &wire.ChunkData{
			Index:           idx,
			IV:              iv,
			Ciphertext:      ciphertext,
			Tag:             tag,
			PlaintextSHA256: append([]byte(nil), digest[:]...),
		}
		if _, err := s.conn.Send(msg); err != nil {
			return retries, fmt.Errorf("transfer: send chunk %d: %w", idx, err)
		}

		frame, err := waitForOrCancel(ctx, s.conn, func(f wire.Frame) bool {
			switch m := f.Msg.(type) {
			case *wire.ChunkAck:
				return m.Index == idx
			case *wire.ChunkNack:
				return m.Index == idx
			}
			return false
		}, ChunkAckTimeout)
		if err != nil {
			return retries, err
		}

		if _, ok := frame.Msg.(*wire.ChunkAck); ok {
			return retries, nil
		}

		retries++
		if retries > MaxChunkRetries {
			return retries, fmt.Errorf("%w: chunk %d", ErrRetriesExhausted, idx)
		}

		data, err = chunker.ReadChunk(s.filePath, idx, chunkSize)
		if err != nil {
			return retries, fmt.Errorf("transfer: re-read chunk %d: %w", idx, err)
		}
	}
}

// terminal maps a wait/cancel error to the correct terminal state and
// emits it.
func (s *Sender) terminal(err error) error {
	if errors.Is(err, ErrCancelled) {
		return s.cancel("cancelled")
	}
	if errors.Is(err, peerconn.ErrTimeout) {
		return s.failWithMessage(err, "Transfer timed out")
	}
	return s.fail(err)
}

func (s *Sender) fail(err error) error {
	return s.failWithMessage(err, err.Error())
}

func (s *Sender) failWithMessage(err error, msg string) error {
	s.emit(Update{State: StateFailed, ErrorMessage: msg})
	return err
}

func (s *Sender) cancel(reason string) error {
	s.emit(Update{State: StateCancelled, ErrorMessage: reason})
	return fmt.Errorf("%w: %s", ErrCancelled, reason)
}
