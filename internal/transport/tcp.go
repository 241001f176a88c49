package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

type tcpListener struct {
	ln     net.Listener
	logger *slog.Logger
}

func listenTCP(addr string, opts Options) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &tcpListener{ln: ln, logger: opts.logger()}, nil
}

// Accept waits for a TCP client. Cancelling ctx closes the listener.
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	c, err := acceptWithContext(ctx, l.ln)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("tcp connection accepted", "remote_addr", c.RemoteAddr())
	return newTCPConn(c), nil
}

func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

func acceptWithContext(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type res struct {
		conn net.Conn
		err  error
	}
	ch := make(chan res, 1)
	go func() {
		c, err := ln.Accept()
		ch <- res{conn: c, err: err}
	}()
	select {
	case <-ctx.Done():
		_ = ln.Close()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

func dialTCP(ctx context.Context, addr string, opts Options) (Conn, error) {
	d := net.Dialer{Timeout: opts.dialTimeout()}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return newTCPConn(c), nil
}

type tcpConn struct {
	net.Conn
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{Conn: c}
}

// Close half-closes the write side first so the FIN follows the last byte.
func (c *tcpConn) Close() error {
	if tc, ok := c.Conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	return c.Conn.Close()
}

// Abort resets the connection (RST) so the peer's next read fails.
func (c *tcpConn) Abort() error {
	if tc, ok := c.Conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	return c.Conn.Close()
}
