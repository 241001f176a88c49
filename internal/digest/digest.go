// Package digest computes whole-file SHA-256 fingerprints.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// Size is the digest length in bytes.
	Size = sha256.Size
	// HexSize is the length of the hex encoding.
	HexSize = Size * 2
	// DefaultChunkSize matches the transfer chunk size.
	DefaultChunkSize = 1024
)

// ErrInvalidHex indicates a malformed hex digest.
var ErrInvalidHex = errors.New("invalid hex digest")

// Digest is a SHA-256 value.
type Digest [Size]byte

// Hex returns the lowercase hex encoding.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// Equal compares two digests in constant time.
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseHex decodes a 64-character hex digest. Upper and lower case are accepted.
func ParseHex(s string) (Digest, error) {
	var d Digest
	if len(s) != HexSize {
		return d, fmt.Errorf("%w: length %d, want %d", ErrInvalidHex, len(s), HexSize)
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return d, nil
}

// Sum reads r to EOF in chunkSize reads and returns its digest.
func Sum(r io.Reader, chunkSize int) (Digest, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	h := sha256.New()
	buf := make([]byte, chunkSize)
	// Hide WriterTo/ReaderFrom so reads really happen chunkSize at a time.
	if _, err := io.CopyBuffer(struct{ io.Writer }{h}, struct{ io.Reader }{r}, buf); err != nil {
		return Digest{}, fmt.Errorf("failed to hash: %w", err)
	}
	var d Digest
	h.Sum(d[:0])
	return d, nil
}

// SumFile opens path and digests its full contents.
func SumFile(path string, chunkSize int) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Sum(f, chunkSize)
}

// SumBytes digests an in-memory buffer.
func SumBytes(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}
