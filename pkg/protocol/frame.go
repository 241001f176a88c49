package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/sheerbytes/segflux/internal/digest"
)

// DigestFrameSize is the fixed width of the digest frame on the wire.
const DigestFrameSize = digest.HexSize

var (
	// ErrNoDigest indicates the server closed the stream before any digest byte.
	ErrNoDigest = errors.New("connection closed before digest")
	// ErrShortDigestFrame indicates the stream ended inside the digest frame.
	ErrShortDigestFrame = errors.New("truncated digest frame")
)

// WriteDigestFrame sends d as 64 hex characters in a single write.
func WriteDigestFrame(w io.Writer, d digest.Digest) error {
	if _, err := io.WriteString(w, d.Hex()); err != nil {
		return fmt.Errorf("failed to write digest frame: %w", err)
	}
	return nil
}

// ReadDigestFrame reads exactly DigestFrameSize bytes, however the transport
// splits them, and decodes the digest.
func ReadDigestFrame(r io.Reader) (digest.Digest, error) {
	var buf [DigestFrameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return digest.Digest{}, ErrNoDigest
		case errors.Is(err, io.ErrUnexpectedEOF):
			return digest.Digest{}, ErrShortDigestFrame
		default:
			return digest.Digest{}, fmt.Errorf("failed to read digest frame: %w", err)
		}
	}
	return digest.ParseHex(string(buf[:]))
}
