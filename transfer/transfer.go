// Package transfer implements the per-transfer state machine: the
// sender and receiver flows that drive a single core/peerconn.Conn
// through handshake, pairing, file offer, chunk streaming, and
// verification.
package transfer

import (
	"errors"
	"io"
	"time"

	"github.com/gosuda/swiftdrop/core/chunker"
)

// Config constants shared by both flows.
const (
	ProtocolVersion    uint16 = 1
	MinProtocolVersion uint16 = 1
	DefaultChunkSize   uint32 = 64 * 1024
	MaxChunkRetries    int    = 3

	HandshakeReplyTimeout   = 15 * time.Second
	ConfirmTimeout          = 30 * time.Second
	FileMetaTimeout         = 30 * time.Second
	FileAcceptTimeout       = 60 * time.Second
	ChunkAckTimeout         = 30 * time.Second
	TransferVerifiedTimeout = 30 * time.Second
)

// State is a position in the transfer state machine.
type State string

const (
	StateIdle           State = "idle"
	StateHandshaking    State = "handshaking"
	StateAwaitingAccept State = "awaitingAccept"
	StateTransferring   State = "transferring"
	StateVerifying      State = "verifying"
	StateCompleted      State = "completed"
	StateCancelled      State = "cancelled"
	StateFailed         State = "failed"
)

// IsTerminal reports whether s is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

var (
	ErrVersionMismatch  = errors.New("transfer: protocol version mismatch")
	ErrPairingRejected  = errors.New("transfer: pairing hash mismatch")
	ErrRejected         = errors.New("transfer: receiver rejected the file")
	ErrRetriesExhausted = errors.New("transfer: chunk retry budget exhausted")
	ErrOutOfOrder       = errors.New("transfer: chunk received out of order")
	ErrChecksumMismatch = errors.New("transfer: whole-file checksum mismatch")
	ErrCancelled        = errors.New("transfer: cancelled")
	ErrBusy             = errors.New("transfer: receiver busy")
)

// Sink is the writable destination a receiver writes decrypted chunks
// into, supplied by the offer callback once a transfer is accepted.
type Sink interface {
	io.WriterAt
	Flush() error
	Close() error
}

// OfferFunc is invoked exactly once per inbound transfer, at the
// awaitingAccept transition. Returning ok=false rejects the transfer
// with reason.
type OfferFunc func(meta chunker.FilePrep) (sink Sink, reason string, ok bool)

// Update is a single progress report emitted by a running session.
type Update struct {
	State           State
	ChunksCompleted uint32
	ChunksTotal     uint32
	Retries         int
	ErrorMessage    string
}

// UpdateFunc receives every Update a session produces, in order.
type UpdateFunc func(Update)
