package transfer

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/gosuda/swiftdrop/core/chunker"
	"github.com/gosuda/swiftdrop/core/cryptoops"
	"github.com/gosuda/swiftdrop/core/peerconn"
	"github.com/gosuda/swiftdrop/core/wire"
)

// Receiver drives the receiver half of a transfer over an
// already-accepted peerconn.Conn.
type Receiver struct {
	conn     *peerconn.Conn
	deviceID string
	name     string
	onOffer  OfferFunc
	update   UpdateFunc
}

// NewReceiver returns a Receiver ready to Run.
func NewReceiver(conn *peerconn.Conn, deviceID, name string, onOffer OfferFunc, update UpdateFunc) *Receiver {
	return &Receiver{conn: conn, deviceID: deviceID, name: name, onOffer: onOffer, update: update}
}

func (r *Receiver) emit(u Update) {
	if r.update != nil {
		r.update(u)
	}
}

// Run executes the full receiver flow to completion, cancellation, or
// failure.
func (r *Receiver) Run(ctx context.Context) error {
	r.emit(Update{State: StateHandshaking})

	frame, err := waitForOrCancel(ctx, r.conn, func(f wire.Frame) bool {
		return f.Msg.Type() == wire.TypeHandshakeInit
	}, HandshakeReplyTimeout)
	if err != nil {
		return r.terminal(err)
	}
	init := frame.Msg.(*wire.HandshakeInit)
	if init.Version < MinProtocolVersion || init.Version > ProtocolVersion {
		r.conn.Send(&wire.ErrorMsg{Code: wire.ErrCodeVersionMismatch, Msg: fmt.Sprintf("peer advertised v%d", init.Version)})
		return r.fail(fmt.Errorf("%w: peer advertised v%d", ErrVersionMismatch, init.Version))
	}

	kp, err := cryptoops.GenerateKeyPair()
	if err != nil {
		return r.fail(fmt.Errorf("transfer: generate key pair: %w", err))
	}
	secret, err := kp.ComputeSharedSecret(init.PublicKey)
	if err != nil {
		return r.fail(fmt.Errorf("transfer: compute shared secret: %w", err))
	}
	sessionKey, err := cryptoops.DeriveSessionKey(secret)
	if err != nil {
		return r.fail(fmt.Errorf("transfer: derive session key: %w", err))
	}
	pairingHash := cryptoops.PairingHash(secret)

	if _, err := r.conn.Send(wire.HandshakeReply(ProtocolVersion, kp.PublicKey(), r.name, r.deviceID)); err != nil {
		return r.fail(fmt.Errorf("transfer: send handshake reply: %w", err))
	}

	frame, err = waitForOrCancel(ctx, r.conn, func(f wire.Frame) bool {
		return f.Msg.Type() == wire.TypeHandshakeConfirm
	}, ConfirmTimeout)
	if err != nil {
		return r.terminal(err)
	}
	peerConfirm := frame.Msg.(*wire.HandshakeConfirm)
	if subtle.ConstantTimeCompare(peerConfirm.Hash, pairingHash) != 1 {
		r.conn.Send(&wire.ErrorMsg{Code: wire.ErrCodePairingRejected, Msg: "pairing hash mismatch"})
		return r.fail(ErrPairingRejected)
	}
	if _, err := r.conn.Send(&wire.HandshakeConfirm{Hash: pairingHash}); err != nil {
		return r.fail(fmt.Errorf("transfer: send handshake confirm: %w", err))
	}

	r.emit(Update{State: StateAwaitingAccept})

	frame, err = waitForOrCancel(ctx, r.conn, func(f wire.Frame) bool {
		return f.Msg.Type() == wire.TypeFileMeta
	}, FileMetaTimeout)
	if err != nil {
		return r.terminal(err)
	}
	meta := frame.Msg.(*wire.FileMeta)
	var checksum [32]byte
	copy(checksum[:], meta.Checksum)
	prep := chunker.FilePrep{
		Name:       meta.Name,
		Size:       meta.Size,
		ChunkSize:  meta.ChunkSize,
		ChunkCount: meta.ChunkCount,
		Checksum:   checksum,
	}

	sink, reason, ok := r.onOffer(prep)
	if !ok {
		r.conn.Send(&wire.FileReject{Reason: reason})
		return r.cancel(fmt.Sprintf("rejected: %s", reason))
	}
	if _, err := r.conn.Send(&wire.FileAccept{}); err != nil {
		return r.fail(fmt.Errorf("transfer: send file accept: %w", err))
	}

	r.emit(Update{State: StateTransferring, ChunksTotal: prep.ChunkCount})

	var completed uint32
	var nextIndex uint32
	for nextIndex < prep.ChunkCount {
		frame, err = waitForOrCancel(ctx, r.conn, func(f wire.Frame) bool {
			t := f.Msg.Type()
			return t == wire.TypeChunkData || t == wire.TypeTransferComplete
		}, ChunkAckTimeout)
		if err != nil {
			sink.Close()
			return r.terminal(err)
		}
		if frame.Msg.Type() == wire.TypeTransferComplete {
			break
		}

		chunkMsg := frame.Msg.(*wire.ChunkData)
		if chunkMsg.Index != nextIndex {
			sink.Close()
			return r.fail(fmt.Errorf("%w: expected %d, got %d", ErrOutOfOrder, nextIndex, chunkMsg.Index))
		}

		retry, err := r.consumeChunk(sink, sessionKey, chunkMsg, prep.ChunkSize)
		if err != nil {
			sink.Close()
			return r.fail(err)
		}
		if retry {
			// A NACK was sent for this index; the sender retransmits
			// the same index, so nextIndex does not advance.
			continue
		}

		nextIndex++
		completed++
		r.emit(Update{State: StateTransferring, ChunksCompleted: completed, ChunksTotal: prep.ChunkCount})
	}

	// Drain a trailing TRANSFER_COMPLETE if the loop above exited via
	// the chunk-count reaching ChunkCount rather than observing it.
	if nextIndex >= prep.ChunkCount {
		_, err = waitForOrCancel(ctx, r.conn, func(f wire.Frame) bool {
			return f.Msg.Type() == wire.TypeTransferComplete
		}, ChunkAckTimeout)
		if err != nil && !errors.Is(err, peerconn.ErrTimeout) {
			sink.Close()
			return r.terminal(err)
		}
	}

	r.emit(Update{State: StateVerifying, ChunksCompleted: completed, ChunksTotal: prep.ChunkCount})

	if err := sink.Flush(); err != nil {
		sink.Close()
		return r.fail(fmt.Errorf("transfer: flush sink: %w", err))
	}
	verified, err := r.verifySink(sink, prep.Checksum)
	sink.Close()
	if err != nil {
		return r.fail(fmt.Errorf("transfer: verify file: %w", err))
	}
	if !verified {
		r.conn.Send(&wire.ErrorMsg{Code: wire.ErrCodeInternalError, Msg: "File checksum mismatch"})
		return r.fail(ErrChecksumMismatch)
	}

	if _, err := r.conn.Send(&wire.TransferVerified{}); err != nil {
		return r.fail(fmt.Errorf("transfer: send transfer verified: %w", err))
	}
	r.emit(Update{State: StateCompleted, ChunksCompleted: completed, ChunksTotal: prep.ChunkCount})
	return nil
}

// consumeChunk decrypts and verifies a single chunk, writing it to
// sink on success or sending the appropriate NACK and reporting
// retry=true on a recoverable failure.
func (r *Receiver) consumeChunk(sink Sink, sessionKey []byte, msg *wire.ChunkData, chunkSize uint32) (retry bool, err error) {
	plaintext, err := cryptoops.DecryptChunk(sessionKey, msg.IV, msg.Ciphertext, msg.Tag, nil)
	if err != nil {
		if errors.Is(err, cryptoops.ErrAuthFailure) {
			r.conn.Send(&wire.ChunkNack{Index: msg.Index, Code: wire.NackDecryption})
			return true, nil
		}
		return false, fmt.Errorf("transfer: decrypt chunk %d: %w", msg.Index, err)
	}

	digest := sha256.Sum256(plaintext)
	if subtle.ConstantTimeCompare(digest[:], msg.PlaintextSHA256) != 1 {
		r.conn.Send(&wire.ChunkNack{Index: msg.Index, Code: wire.NackChecksum})
		return true, nil
	}

	offset := int64(msg.Index) * int64(chunkSize)
	if _, err := sink.WriteAt(plaintext, offset); err != nil {
		return false, fmt.Errorf("transfer: write chunk %d: %w", msg.Index, err)
	}

	if _, err := r.conn.Send(&wire.ChunkAck{Index: msg.Index}); err != nil {
		return false, fmt.Errorf("transfer: send ack %d: %w", msg.Index, err)
	}
	return false, nil
}

// verifySink compares want against the whole-file digest reported by
// the sink's own Sum() [32]byte method (the directory-backed sink in
// cmd/swiftdrop re-reads its file from disk). A sink without a Sum
// method is not checked: verifySink reports it as matching.
func (r *Receiver) verifySink(sink Sink, want [32]byte) (bool, error) {
	type verifiable interface {
		Sum() [32]byte
	}
	if v, ok := sink.(verifiable); ok {
		return v.Sum() == want, nil
	}
	return true, nil
}

func (r *Receiver) terminal(err error) error {
	if errors.Is(err, ErrCancelled) {
		return r.cancel("cancelled")
	}
	if errors.Is(err, peerconn.ErrTimeout) {
		return r.failWithMessage(err, "Transfer timed out")
	}
	return r.fail(err)
}

func (r *Receiver) fail(err error) error {
	return r.failWithMessage(err, err.Error())
}

func (r *Receiver) failWithMessage(err error, msg string) error {
	r.emit(Update{State: StateFailed, ErrorMessage: msg})
	return err
}

func (r *Receiver) cancel(reason string) error {
	r.emit(Update{State: StateCancelled, ErrorMessage: reason})
	return fmt.Errorf("%w: %s", ErrCancelled, reason)
}
