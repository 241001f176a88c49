package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/sheerbytes/segflux/internal/quictransport"
)

const (
	quicAbortCode = 0x1
	// quicCloseLinger bounds how long the server waits for the client to
	// acknowledge the end of stream before dropping the connection.
	quicCloseLinger = 5 * time.Second
	defaultUDPBuf   = 8 * 1024 * 1024
)

type quicListener struct {
	udp      *net.UDPConn
	listener *quic.Listener
	logger   *slog.Logger
}

func listenQUIC(addr string, opts Options) (Listener, error) {
	logger := opts.logger()
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	tune := ApplyUDPBeyondBestEffort(udp, udpBufferSize(opts), udpBufferSize(opts))
	logger.Debug("udp buffers", "tuning", tune.String())

	cfg, qtune := BuildQuicConfig(quictransport.DefaultServerQUICConfig(), opts.QUICConnWindow, opts.QUICStreamWindow, 1)
	logger.Debug("quic windows", "tuning", qtune.String())

	ln, err := quictransport.Listen(udp, logger, cfg)
	if err != nil {
		_ = udp.Close()
		return nil, err
	}
	return &quicListener{udp: udp, listener: ln, logger: logger}, nil
}

// Accept waits for a QUIC connection and the single stream its client opens.
func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, fmt.Errorf("quic listener: %w", net.ErrClosed)
		}
		return nil, fmt.Errorf("failed to accept QUIC connection: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(quicAbortCode, "no stream")
		return nil, fmt.Errorf("failed to accept QUIC stream: %w", err)
	}
	l.logger.Debug("QUIC session stream accepted", "remote_addr", conn.RemoteAddr(), "stream_id", stream.StreamID())
	return &quicConn{conn: conn, stream: stream, linger: true}, nil
}

func (l *quicListener) Addr() net.Addr {
	return l.udp.LocalAddr()
}

func (l *quicListener) Close() error {
	err := l.listener.Close()
	if cerr := l.udp.Close(); err == nil {
		err = cerr
	}
	return err
}

func dialQUIC(ctx context.Context, addr string, opts Options) (Conn, error) {
	logger := opts.logger()
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	udp, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket: %w", err)
	}
	ApplyUDPBeyondBestEffort(udp, udpBufferSize(opts), udpBufferSize(opts))

	cfg, _ := BuildQuicConfig(quictransport.DefaultClientQUICConfig(), opts.QUICConnWindow, opts.QUICStreamWindow, 1)
	cfg.MaxIncomingStreams = -1

	dialCtx, cancel := context.WithTimeout(ctx, opts.dialTimeout())
	defer cancel()
	conn, err := quictransport.Dial(dialCtx, udp, remote, logger, cfg)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(quicAbortCode, "no stream")
		_ = udp.Close()
		return nil, fmt.Errorf("failed to open QUIC stream: %w", err)
	}
	return &quicConn{conn: conn, stream: stream, udp: udp}, nil
}

func udpBufferSize(opts Options) int {
	if opts.UDPBufferBytes > 0 {
		return opts.UDPBufferBytes
	}
	return defaultUDPBuf
}

// quicConn is one bidirectional QUIC stream plus the connection it lives on.
type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	udp    *net.UDPConn // owned by dialers only
	linger bool         // server side: wait for the peer to hang up

	closeOnce sync.Once
	closeErr  error
}

func (c *quicConn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

func (c *quicConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

func (c *quicConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close sends FIN on the stream. Closing the connection right away could
// discard data still in flight, so the server side waits for the client to
// close first.
func (c *quicConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
		if c.linger {
			select {
			case <-c.conn.Context().Done():
			case <-time.After(quicCloseLinger):
			}
		}
		if err := c.conn.CloseWithError(0, ""); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
		if c.udp != nil {
			_ = c.udp.Close()
		}
	})
	return c.closeErr
}

// Abort resets the stream and closes the connection with an error code.
func (c *quicConn) Abort() error {
	c.closeOnce.Do(func() {
		c.stream.CancelWrite(quicAbortCode)
		c.stream.CancelRead(quicAbortCode)
		c.closeErr = c.conn.CloseWithError(quicAbortCode, "transfer aborted")
		if c.udp != nil {
			_ = c.udp.Close()
		}
	})
	return c.closeErr
}
