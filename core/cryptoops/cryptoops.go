// Package cryptoops implements the cryptographic primitives of the
// SwiftDrop session: ephemeral ECDH(P-256) key agreement, HKDF-SHA256
// session key derivation, 6-digit pairing confirmation, and per-chunk
// AES-256-GCM authenticated encryption.
package cryptoops

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sentinel errors returned by this package.
var (
	ErrInvalidPoint  = errors.New("cryptoops: invalid remote public point")
	ErrInvalidKey    = errors.New("cryptoops: invalid private key")
	ErrAuthFailure   = errors.New("cryptoops: AEAD authentication failed")
	ErrIVSize        = errors.New("cryptoops: invalid IV size")
	ErrKeyDerivation = errors.New("cryptoops: key derivation failed")
)

const (
	// SessionKeyInfo is the exact HKDF info label mandated by the
	// protocol. Both peers MUST use this label verbatim.
	SessionKeyInfo = "SwiftDrop-v1-session-key"

	// SessionKeySize is the length in bytes of a derived AEAD key.
	SessionKeySize = 32

	// SharedSecretSize is the fixed width of the ECDH shared secret
	// (the big-endian, zero-padded X coordinate of the shared point).
	SharedSecretSize = 32

	// IVSize is the AES-GCM nonce length used for every chunk.
	IVSize = 12

	// TagSize is the AES-GCM authentication tag length.
	TagSize = 16

	// PairingCodeDigits is the number of decimal digits in a pairing code.
	PairingCodeDigits = 6

	pairingModulus = 1_000_000
)

// KeyPair is an ephemeral ECDH(P-256) key pair. The public key is the
// 65-byte uncompressed SEC1 encoding (leading 0x04 byte).
type KeyPair struct {
	priv *ecdh.PrivateKey
	pub  []byte
}

// GenerateKeyPair creates a fresh ephemeral P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoops: generate keypair: %w", err)
	}
	return &KeyPair{priv: priv, pub: priv.PublicKey().Bytes()}, nil
}

// PublicKey returns the 65-byte uncompressed SEC1 public key.
func (k *KeyPair) PublicKey() []byte {
	out := make([]byte, len(k.pub))
	copy(out, k.pub)
	return out
}

// ComputeSharedSecret performs ECDH with the peer's uncompressed P-256
// public key and returns the fixed-width 32-byte big-endian shared
// secret (the X coordinate of the shared point). Fails with
// ErrInvalidPoint if remotePub is not a valid uncompressed P-256 point.
func (k *KeyPair) ComputeSharedSecret(remotePub []byte) ([]byte, error) {
	peerKey, err := ecdh.P256().NewPublicKey(remotePub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}

	shared, err := k.priv.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}

	// crypto/ecdh already returns the fixed-width X coordinate for
	// NIST curves, zero-padded to the curve's field size (32 bytes
	// for P-256), matching the wire contract directly.
	if len(shared) != SharedSecretSize {
		padded := make([]byte, SharedSecretSize)
		copy(padded[SharedSecretSize-len(shared):], shared)
		shared = padded
	}
	return shared, nil
}

// DeriveSessionKey derives the 32-byte AEAD session key from the shared
// secret via HKDF-SHA256 with an empty salt and the fixed info label
// SessionKeyInfo.
func DeriveSessionKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(SessionKeyInfo))
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return key, nil
}

// PairingHash returns SHA-256(secret), the value exchanged in
// HANDSHAKE_CONFIRM for out-of-band pairing verification.
func PairingHash(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

// DerivePairingCode derives the 6-digit decimal pairing code from the
// shared secret: the first 4 bytes of SHA-256(secret), interpreted as a
// big-endian unsigned integer, modulo 1,000,000, zero-padded to 6
// digits.
func DerivePairingCode(secret []byte) string {
	sum := sha256.Sum256(secret)
	v := binary.BigEndian.Uint32(sum[:4])
	code := v % pairingModulus
	return fmt.Sprintf("%0*d", PairingCodeDigits, code)
}

// EncryptChunk seals plaintext under key using AES-256-GCM with a
// freshly generated 12-byte random IV. The IV is never reused with the
// same key across calls.
func EncryptChunk(key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("cryptoops: generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, aad)
	ct := sealed[:len(sealed)-TagSize]
	tg := sealed[len(sealed)-TagSize:]
	return iv, ct, tg, nil
}

// DecryptChunk opens a chunk sealed by EncryptChunk. It fails with
// ErrAuthFailure on tag mismatch, wrong key, tampered ciphertext, or
// mismatched AAD.
func DecryptChunk(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, ErrIVSize
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoops: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoops: new gcm: %w", err)
	}
	return aead, nil
}

// Zeroize overwrites key material in place. Callers MUST invoke this on
// session keys when a transfer reaches a terminal state.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
