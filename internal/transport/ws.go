package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSPath is the HTTP path the WebSocket transport upgrades on.
const WSPath = "/transfer"

const wsCloseLinger = 5 * time.Second

type wsListener struct {
	ln     net.Listener
	srv    *http.Server
	conns  chan *websocket.Conn
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func listenWS(ctx context.Context, addr string, opts Options) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l := &wsListener{
		ln:     ln,
		conns:  make(chan *websocket.Conn),
		done:   make(chan struct{}),
		logger: opts.logger(),
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}
		select {
		case l.conns <- conn:
		case <-l.done:
			_ = conn.Close()
		}
	})
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("websocket server stopped", "error", err)
		}
	}()
	return l, nil
}

// Accept waits for the next upgraded connection.
func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, fmt.Errorf("websocket listener: %w", net.ErrClosed)
	case c := <-l.conns:
		l.logger.Debug("websocket connection accepted", "remote_addr", c.RemoteAddr())
		return &wsConn{conn: c, linger: true}, nil
	}
}

func (l *wsListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.srv.Close()
	})
	return l.closeErr
}

var wsDialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
	ReadBufferSize:   32 * 1024,
	WriteBufferSize:  32 * 1024,
}

func dialWS(ctx context.Context, addr string, opts Options) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: WSPath}
	dialer := wsDialer
	dialer.HandshakeTimeout = opts.dialTimeout()

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn presents a WebSocket as a byte stream. Every Write is one binary
// message; Read concatenates message payloads.
type wsConn struct {
	conn   *websocket.Conn
	reader io.Reader
	linger bool

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close sends a normal closure frame. The server side then waits for the
// client's close reply so the last messages are not cut off.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseLinger))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
		if c.linger && err == nil {
			_ = c.conn.SetReadDeadline(time.Now().Add(wsCloseLinger))
			for {
				if _, _, rerr := c.conn.NextReader(); rerr != nil {
					break
				}
			}
		}
		if cerr := c.conn.Close(); cerr != nil && c.closeErr == nil {
			c.closeErr = cerr
		}
	})
	return c.closeErr
}

// Abort closes with status 1011 so the peer's next read fails.
func (c *wsConn) Abort() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "transfer aborted")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
