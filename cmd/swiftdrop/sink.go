package main

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fileSink is a directory-backed transfer.Sink: chunks are written at
// their byte offset as they arrive, Flush syncs to disk, and Sum
// recomputes the whole-file digest for the receiver's final
// verification step.
type fileSink struct {
	f    *os.File
	path string
}

// newFileSink creates (or truncates) name under dir for writing.
func newFileSink(dir, name string) (*fileSink, error) {
	if name == "" {
		name = "swiftdrop-transfer"
	}
	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", path, err)
	}
	return &fileSink{f: f, path: path}, nil
}

func (s *fileSink) WriteAt(p []byte, off int64) (int, error) {
	return s.f.WriteAt(p, off)
}

func (s *fileSink) Flush() error {
	return s.f.Sync()
}

func (s *fileSink) Close() error {
	return s.f.Close()
}

// Sum recomputes the whole-file SHA-256 digest by reading the written
// file back from disk through a separate handle.
func (s *fileSink) Sum() [32]byte {
	var digest [32]byte
	r, err := os.Open(s.path)
	if err != nil {
		return digest
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return digest
	}
	copy(digest[:], h.Sum(nil))
	return digest
}
