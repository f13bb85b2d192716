// Package wire implements the SwiftDrop length-prefixed binary framing
// protocol: a 4-byte length prefix, 1-byte type, 4-byte sequence number,
// and a type-specific payload. All multi-byte integers are big-endian;
// strings are UTF-8 and not NUL-terminated.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned for any frame whose type byte is unknown, or
// whose payload length is inconsistent with the envelope.
var ErrMalformed = errors.New("wire: malformed frame")

// ErrIncomplete signals that buf does not yet hold a complete frame.
var ErrIncomplete = errors.New("wire: incomplete frame")

// Type is the 1-byte message type tag.
type Type byte

// Message type tags, exactly as specified on the wire.
const (
	TypeHandshakeInit    Type = 0x01
	TypeHandshakeReply   Type = 0x02
	TypeHandshakeConfirm Type = 0x03
	TypeFileMeta         Type = 0x10
	TypeFileAccept       Type = 0x11
	TypeFileReject       Type = 0x12
	TypeChunkData        Type = 0x20
	TypeChunkAck         Type = 0x21
	TypeChunkNack        Type = 0x22
	TypeTransferComplete Type = 0x30
	TypeTransferVerified Type = 0x31
	TypeError            Type = 0xF0
	TypeCancel           Type = 0xFF
)

// NackCode identifies why a chunk was rejected.
type NackCode byte

const (
	NackChecksum     NackCode = 0x01
	NackDecryption   NackCode = 0x02
	NackOutOfSeqence NackCode = 0x03
)

// ErrorCode is a protocol-level error code carried in an ERROR message.
type ErrorCode uint16

const (
	ErrCodeVersionMismatch  ErrorCode = 0x0001
	ErrCodePairingRejected  ErrorCode = 0x0002
	ErrCodeStorageFull      ErrorCode = 0x0003
	ErrCodePermissionDenied ErrorCode = 0x0004
	ErrCodeInternalError    ErrorCode = 0x0005
)

// envelopeHeaderSize is the length-prefix (4) + type (1) + sequence (4).
const envelopeHeaderSize = 4 + 1 + 4

// Message is implemented by every one of the 13 payload variants.
type Message interface {
	Type() Type
	encodePayload() []byte
}

// Frame is a decoded envelope: the message plus its sequence number.
type Frame struct {
	Seq uint32
	Msg Message
}

// Encode produces the exact wire bytes for msg: length prefix, type,
// sequence number, and payload.
func Encode(seq uint32, msg Message) []byte {
	payload := msg.encodePayload()
	length := 1 + 4 + len(payload) // type + seq + payload, NOT incl. the 4-byte length field itself

	out := make([]byte, 4+length)
	binary.BigEndian.PutUint32(out[0:4], uint32(length))
	out[4] = byte(msg.Type())
	binary.BigEndian.PutUint32(out[5:9], seq)
	copy(out[9:], payload)
	return out
}

// Decode attempts to parse exactly one frame from the front of buf. It
// returns the decoded Frame and the number of bytes consumed. If buf
// does not yet hold a complete frame it returns ErrIncomplete. Any
// structural inconsistency (unknown type, truncated or overlong
// payload) is ErrMalformed.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 4 {
		return Frame{}, 0, ErrIncomplete
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	if length < 5 {
		// Every frame carries at least a type byte and a 4-byte
		// sequence number.
		return Frame{}, 0, ErrMalformed
	}

	total := 4 + int(length)
	if total < 0 {
		return Frame{}, 0, ErrMalformed
	}
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}

	typeByte := buf[4]
	seq := binary.BigEndian.Uint32(buf[5:9])
	payload := buf[9:total]

	msg, err := decodePayload(Type(typeByte), payload)
	if err != nil {
		return Frame{}, 0, err
	}

	return Frame{Seq: seq, Msg: msg}, total, nil
}

func decodePayload(t Type, payload []byte) (Message, error) {
	switch t {
	case TypeHandshakeInit:
		return decodeHandshake(payload, TypeHandshakeInit)
	case TypeHandshakeReply:
		return decodeHandshake(payload, TypeHandshakeReply)
	case TypeHandshakeConfirm:
		return decodeHandshakeConfirm(payload)
	case TypeFileMeta:
		return decodeFileMeta(payload)
	case TypeFileAccept:
		return decodeFileAccept(payload)
	case TypeFileReject:
		return decodeFileReject(payload)
	case TypeChunkData:
		return decodeChunkData(payload)
	case TypeChunkAck:
		return decodeChunkAck(payload)
	case TypeChunkNack:
		return decodeChunkNack(payload)
	case TypeTransferComplete:
		return decodeTransferComplete(payload)
	case TypeTransferVerified:
		return decodeTransferVerified(payload)
	case TypeError:
		return decodeError(payload)
	case TypeCancel:
		return decodeCancel(payload)
	default:
		return nil, fmt.Errorf("%w: unknown type 0x%02x", ErrMalformed, byte(t))
	}
}

func truncated() error {
	return fmt.Errorf("%w: truncated payload", ErrMalformed)
}
