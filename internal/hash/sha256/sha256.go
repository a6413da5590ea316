// Package sha256 provides SHA-256 digests for output documents.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Writer forwards bytes to an underlying writer while hashing them.
type Writer struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewWriter wraps w. A nil w only hashes.
func NewWriter(w io.Writer) *Writer {
	if w == nil {
		w = io.Discard
	}
	return &Writer{w: w, h: sha256.New()}
}

// Write implements io.Writer.
func (d *Writer) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.h.Write(p[:n])
	d.n += int64(n)
	if err != nil {
		return n, fmt.Errorf("digest write: %w", err)
	}
	return n, nil
}

// Sum returns the hex digest of everything written so far.
func (d *Writer) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Len returns the number of bytes written.
func (d *Writer) Len() int64 {
	return d.n
}

// Hex returns the hex digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
