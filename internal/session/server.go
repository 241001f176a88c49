package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sheerbytes/segflux/internal/logging"
	"github.com/sheerbytes/segflux/internal/transfer"
	"github.com/sheerbytes/segflux/internal/transport"
	"github.com/sheerbytes/segflux/pkg/protocol"
)

const (
	acceptRetryDelay = 100 * time.Millisecond
	historyTimeout   = 2 * time.Second
)

// Config controls how sessions are served.
type Config struct {
	// Root is the directory requested filenames are resolved against.
	Root           string
	ChunkSize      int
	ReadAhead      int
	MaxWorkers     int
	RequestCap     int
	RequestTimeout time.Duration
}

// DefaultConfig serves the working directory.
func DefaultConfig() Config {
	return Config{
		Root:           ".",
		ChunkSize:      transfer.DefaultChunkSize,
		ReadAhead:      transfer.DefaultReadAhead,
		MaxWorkers:     256,
		RequestCap:     protocol.DefaultRequestCap,
		RequestTimeout: 30 * time.Second,
	}
}

// Server serves one client at a time from a transport listener.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	history History
	stats   Stats
}

// NewServer creates a server. A nil history keeps the last 100 sessions in
// memory; a nil logger discards logs.
func NewServer(cfg Config, history History, logger *slog.Logger) *Server {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.RequestCap <= 0 {
		cfg.RequestCap = protocol.DefaultRequestCap
	}
	if history == nil {
		history = NewMemoryHistory(100)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{cfg: cfg, logger: logger, history: history}
}

func (s *Server) History() History {
	return s.history
}

func (s *Server) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// Serve accepts and serves clients sequentially until ctx is cancelled or
// the listener is closed. Session failures are logged and recorded; they
// never stop the loop.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	s.logger.Info("serving", "addr", ln.Addr().String(), "root", s.cfg.Root)
	for {
		s.logger.Debug("session state", "state", Listening)
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if transport.IsClosed(err) {
				return err
			}
			s.logger.Warn("accept failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		s.ServeConn(ctx, conn)
	}
}

// ServeConn runs one session to completion and always closes conn.
func (s *Server) ServeConn(ctx context.Context, conn transport.Conn) Record {
	sess := newSession(conn, s.cfg, s.logger)
	err := sess.run(ctx)
	sess.close(err)
	rec := sess.rec

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	if herr := s.history.Add(hctx, rec); herr != nil {
		sess.logger.Warn("failed to record session", "error", herr)
	}
	cancel()
	s.stats.Observe(rec)

	var reqErr *RequestError
	switch {
	case err == nil:
		elapsed := rec.Duration()
		sess.logger.Info("transfer complete",
			"file", rec.Filename,
			"workers", rec.Workers,
			"bytes", rec.BytesSent,
			"elapsed", elapsed.Round(time.Millisecond),
			"rate", transport.FormatRate(rec.BytesSent, elapsed),
		)
	case errors.As(err, &reqErr):
		sess.logger.Warn("request rejected", "error", err)
	default:
		sess.logger.Warn("transfer failed", "state", rec.State, "bytes", rec.BytesSent, "error", err)
	}
	return rec
}
