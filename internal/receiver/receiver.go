package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sheerbytes/segflux/internal/config"
	"github.com/sheerbytes/segflux/internal/digest"
	"github.com/sheerbytes/segflux/internal/logging"
	"github.com/sheerbytes/segflux/internal/progress"
	"github.com/sheerbytes/segflux/internal/transfer"
	"github.com/sheerbytes/segflux/internal/transport"
	"github.com/sheerbytes/segflux/pkg/protocol"
)

// OutputPrefix is prepended to the base name of every received file.
const OutputPrefix = "received_"

var (
	// ErrRejected indicates the server closed the connection without
	// sending a digest, which is how it refuses a request.
	ErrRejected = errors.New("request rejected by server")
	// ErrDigestMismatch indicates the received file does not hash to the
	// digest the server announced.
	ErrDigestMismatch = errors.New("digest mismatch")
)

// State is a step in the client-side lifecycle.
type State int

const (
	Connecting State = iota
	RequestSent
	DigestReceiving
	StreamReceiving
	Verifying
	Done
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case RequestSent:
		return "request_sent"
	case DigestReceiving:
		return "digest_receiving"
	case StreamReceiving:
		return "stream_receiving"
	case Verifying:
		return "verifying"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config controls a download.
type Config struct {
	Addr        string
	Transport   transport.Kind
	OutDir      string
	ChunkSize   int
	Verify      config.VerifyMode
	DialTimeout time.Duration

	// Meter, if set, counts received file bytes; OnProgress is called after
	// each write to the output file.
	Meter      *progress.Meter
	OnProgress func()
}

// Result describes a finished download.
type Result struct {
	Path     string
	Bytes    int64
	Expected digest.Digest
	Actual   digest.Digest
	Match    bool
	Elapsed  time.Duration
}

// Receiver downloads one file per call.
type Receiver struct {
	cfg    Config
	logger *slog.Logger
	state  State
}

func New(cfg Config, logger *slog.Logger) *Receiver {
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = transfer.DefaultChunkSize
	}
	if cfg.Verify == "" {
		cfg.Verify = config.VerifyFail
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Receiver{cfg: cfg, logger: logger}
}

// State returns the step the last download reached.
func (r *Receiver) State() State {
	return r.state
}

func (r *Receiver) transition(next State) {
	r.logger.Debug("receiver state", "from", r.state, "to", next)
	r.state = next
}

// Fetch connects to the server and downloads req into OutDir.
func (r *Receiver) Fetch(ctx context.Context, req protocol.Request) (Result, error) {
	r.state = Connecting
	conn, err := transport.Dial(ctx, r.cfg.Transport, r.cfg.Addr, transport.Options{
		Logger:      r.logger,
		DialTimeout: r.cfg.DialTimeout,
	})
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Abort() })
	defer stop()

	res, err := r.Receive(conn, req)
	if err != nil && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, err
}

// Receive runs the protocol over an established stream.
func (r *Receiver) Receive(conn io.ReadWriter, req protocol.Request) (Result, error) {
	start := time.Now()
	if err := protocol.WriteRequest(conn, req); err != nil {
		return Result{}, err
	}
	r.transition(RequestSent)

	r.transition(DigestReceiving)
	expected, err := protocol.ReadDigestFrame(conn)
	if err != nil {
		if errors.Is(err, protocol.ErrNoDigest) {
			return Result{}, fmt.Errorf("%w: %s", ErrRejected, req)
		}
		return Result{}, err
	}
	r.logger.Debug("digest received", "digest", expected.Hex())

	r.transition(StreamReceiving)
	path := filepath.Join(r.cfg.OutDir, OutputPrefix+filepath.Base(filepath.FromSlash(req.Filename)))
	n, err := r.saveStream(conn, path)
	res := Result{Path: path, Bytes: n, Expected: expected}
	if err != nil {
		return res, err
	}

	r.transition(Verifying)
	actual, err := digest.SumFile(path, r.cfg.ChunkSize)
	if err != nil {
		return res, err
	}
	res.Actual = actual
	res.Match = actual.Equal(expected)
	res.Elapsed = time.Since(start)
	r.transition(Done)

	if !res.Match {
		if r.cfg.Verify == config.VerifyFail {
			return res, fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, expected.Hex(), actual.Hex())
		}
		r.logger.Warn("digest mismatch", "path", path, "expected", expected.Hex(), "actual", actual.Hex())
	}
	return res, nil
}

// saveStream copies the rest of the stream into path and syncs it. A
// failed copy removes the partial file.
func (r *Receiver) saveStream(src io.Reader, path string) (n int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	var dst io.Writer = f
	if r.cfg.Meter != nil {
		r.cfg.Meter.Start(0)
		dst = io.MultiWriter(f, &progress.Writer{Meter: r.cfg.Meter, OnWrite: r.cfg.OnProgress})
	}
	buf := make([]byte, r.cfg.ChunkSize)
	n, err = io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf)
	if err != nil {
		return n, fmt.Errorf("stream interrupted after %d bytes: %w", n, err)
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return n, nil
}
