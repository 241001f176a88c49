package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/sheerbytes/segflux/internal/logging"
)

// Kind names a stream transport.
type Kind string

const (
	KindTCP  Kind = "tcp"
	KindQUIC Kind = "quic"
	KindWS   Kind = "ws"
)

// ErrUnknownKind indicates an unsupported transport name.
var ErrUnknownKind = errors.New("unknown transport")

// ParseKind maps a transport name to a Kind. The empty string means tcp.
func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case "", KindTCP:
		return KindTCP, nil
	case KindQUIC:
		return KindQUIC, nil
	case KindWS, "websocket":
		return KindWS, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownKind, name)
	}
}

// Conn is one reliable, ordered byte stream between client and server.
// One session uses one Conn.
type Conn interface {
	io.Reader
	io.Writer

	// Close ends the stream normally: the peer reads io.EOF after the last
	// byte written.
	Close() error

	// Abort tears the stream down so the peer observes an error instead
	// of a clean end of stream.
	Abort() error

	// SetReadDeadline bounds the next reads, as on net.Conn.
	SetReadDeadline(t time.Time) error

	RemoteAddr() net.Addr
}

// Listener accepts one Conn per client session.
type Listener interface {
	// Accept waits for the next session. It returns an error wrapping
	// net.ErrClosed once the listener is closed.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Options tunes transport construction. The zero value is usable.
type Options struct {
	Logger      *slog.Logger
	DialTimeout time.Duration

	// QUIC only.
	QUICConnWindow   int
	QUICStreamWindow int
	UDPBufferBytes   int
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logging.Discard()
}

func (o Options) dialTimeout() time.Duration {
	if o.DialTimeout > 0 {
		return o.DialTimeout
	}
	return 5 * time.Second
}

// Listen opens a listener of the given kind on addr.
func Listen(ctx context.Context, kind Kind, addr string, opts Options) (Listener, error) {
	switch kind {
	case KindTCP, "":
		return listenTCP(addr, opts)
	case KindQUIC:
		return listenQUIC(addr, opts)
	case KindWS:
		return listenWS(ctx, addr, opts)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
}

// Dial connects to a server of the given kind at addr.
func Dial(ctx context.Context, kind Kind, addr string, opts Options) (Conn, error) {
	switch kind {
	case KindTCP, "":
		return dialTCP(ctx, addr, opts)
	case KindQUIC:
		return dialQUIC(ctx, addr, opts)
	case KindWS:
		return dialWS(ctx, addr, opts)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
}

// IsClosed reports whether err means the listener or connection was closed.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
