package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sheerbytes/segflux/internal/digest"
	"github.com/sheerbytes/segflux/internal/segment"
	"github.com/sheerbytes/segflux/internal/transfer"
	"github.com/sheerbytes/segflux/internal/transport"
	"github.com/sheerbytes/segflux/pkg/protocol"
)

var (
	// ErrFileNotFound indicates the requested file does not exist or is not
	// a regular file.
	ErrFileNotFound = errors.New("file not found")
	// ErrPathOutsideRoot indicates the filename escapes the served directory.
	ErrPathOutsideRoot = errors.New("path outside served root")
	// ErrTooManyWorkers indicates the worker count exceeds the server limit.
	ErrTooManyWorkers = errors.New("too many workers")
)

// RequestError is a failure attributable to the client's request. The
// session is dropped without sending anything.
type RequestError struct {
	Filename string
	Err      error
}

func (e *RequestError) Error() string {
	if e.Filename == "" {
		return "bad request: " + e.Err.Error()
	}
	return fmt.Sprintf("bad request for %q: %v", e.Filename, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// session drives one accepted connection through the lifecycle.
type session struct {
	conn   transport.Conn
	cfg    Config
	logger *slog.Logger
	state  State
	rec    Record
}

func newSession(conn transport.Conn, cfg Config, logger *slog.Logger) *session {
	id := uuid.NewString()
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &session{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("session_id", id, "remote_addr", remote),
		state:  Listening,
		rec: Record{
			ID:        id,
			Remote:    remote,
			StartedAt: time.Now(),
		},
	}
}

func (s *session) transition(next State) {
	s.logger.Debug("session state", "from", s.state, "to", next)
	s.state = next
	if next != Closed {
		s.rec.State = next
	}
}

// run executes the session up to Completed. It never closes the connection.
func (s *session) run(ctx context.Context) error {
	s.transition(Accepted)

	if s.cfg.RequestTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.RequestTimeout))
	}
	req, err := protocol.ReadRequest(s.conn, s.cfg.RequestCap)
	if err != nil {
		return &RequestError{Err: err}
	}
	_ = s.conn.SetReadDeadline(time.Time{})
	s.rec.Filename = req.Filename
	s.rec.Workers = req.Workers
	s.transition(RequestParsed)

	if s.cfg.MaxWorkers > 0 && req.Workers > s.cfg.MaxWorkers {
		return &RequestError{
			Filename: req.Filename,
			Err:      fmt.Errorf("%w: %d > %d", ErrTooManyWorkers, req.Workers, s.cfg.MaxWorkers),
		}
	}

	f, size, err := openInRoot(s.cfg.Root, req.Filename)
	if err != nil {
		return &RequestError{Filename: req.Filename, Err: err}
	}
	defer f.Close()
	s.rec.Size = size
	s.transition(FileOpened)

	sum, err := digest.Sum(io.NewSectionReader(f, 0, size), s.cfg.ChunkSize)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", req.Filename, err)
	}
	s.rec.Digest = sum.Hex()
	if err := protocol.WriteDigestFrame(s.conn, sum); err != nil {
		return err
	}
	s.transition(DigestSent)

	segs, err := segment.Plan(size, req.Workers)
	if err != nil {
		return fmt.Errorf("failed to plan segments: %w", err)
	}
	s.logger.Debug("segments planned", "file", req.Filename, "size", size, "segments", len(segs))
	s.transition(WorkersRunning)

	n, err := transfer.Send(ctx, s.conn, f, segs, transfer.Options{
		ChunkSize: s.cfg.ChunkSize,
		ReadAhead: s.cfg.ReadAhead,
	})
	s.rec.BytesSent = n
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", req.Filename, err)
	}
	s.transition(Completed)
	return nil
}

// close ends the connection. Once data may have been written, a failure
// aborts the transport so the client cannot mistake a truncated stream for
// a complete one.
func (s *session) close(runErr error) {
	var err error
	if runErr != nil && s.state.DataStarted() {
		err = s.conn.Abort()
	} else {
		err = s.conn.Close()
	}
	if err != nil && !transport.IsClosed(err) {
		s.logger.Debug("connection close failed", "error", err)
	}
	s.rec.FinishedAt = time.Now()
	if runErr != nil {
		s.rec.Err = runErr.Error()
	}
	s.transition(Closed)
}

// openInRoot opens name relative to root. Names that are absolute or climb
// out of root are refused, and symlinks may not leave root either.
func openInRoot(root, name string) (*os.File, int64, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return nil, 0, fmt.Errorf("%w: %s", ErrPathOutsideRoot, name)
	}
	f, err := os.OpenInRoot(root, local)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		case errors.Is(err, fs.ErrPermission):
			return nil, 0, fmt.Errorf("failed to open %s: %w", name, err)
		default:
			// symlink leading out of root
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrPathOutsideRoot, name, err)
		}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", ErrFileNotFound, name)
	}
	return f, info.Size(), nil
}
