package quictransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPNProtocol is the Application-Layer Protocol Negotiation identifier for segflux over QUIC.
	ALPNProtocol = "segflux-v1"
)

// ServerConfig returns a TLS configuration for the QUIC server.
// The certificate is self-signed; peers are assumed cooperative.
func ServerConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a TLS configuration for the QUIC client.
// Uses InsecureSkipVerify to accept the server's self-signed certificate.
func ClientConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
		MinVersion:         tls.VersionTLS13,
	}
}

// DefaultServerQUICConfig returns the default QUIC server config. One
// session uses exactly one stream.
func DefaultServerQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		MaxIncomingStreams:             1,
		MaxIncomingUniStreams:          -1,
		InitialConnectionReceiveWindow: 1 * 1024 * 1024,
		MaxConnectionReceiveWindow:     16 * 1024 * 1024,
		InitialStreamReceiveWindow:     1 * 1024 * 1024,
		MaxStreamReceiveWindow:         16 * 1024 * 1024,
	}
}

// DefaultClientQUICConfig returns the default QUIC client config.
func DefaultClientQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		MaxIncomingStreams:             -1,
		MaxIncomingUniStreams:          -1,
		InitialConnectionReceiveWindow: 4 * 1024 * 1024,
		MaxConnectionReceiveWindow:     64 * 1024 * 1024,
		InitialStreamReceiveWindow:     4 * 1024 * 1024,
		MaxStreamReceiveWindow:         64 * 1024 * 1024,
	}
}

// generateSelfSignedCert generates a self-signed certificate valid for one year.
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"segflux"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

// Listen creates a QUIC listener on the given PacketConn using config, or
// the server default when config is nil.
func Listen(udpConn net.PacketConn, logger *slog.Logger, config *quic.Config) (*quic.Listener, error) {
	tlsConfig, err := ServerConfig()
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultServerQUICConfig()
	}

	listener, err := quic.Listen(udpConn, tlsConfig, config)
	if err != nil {
		logger.Error("QUIC listen failed", "error", err, "local_addr", udpConn.LocalAddr())
		return nil, err
	}

	logger.Debug("QUIC listener created", "local_addr", udpConn.LocalAddr())
	return listener, nil
}

// Dial creates a QUIC connection to remoteAddr over udpConn using config,
// or the client default when config is nil.
func Dial(ctx context.Context, udpConn net.PacketConn, remoteAddr net.Addr, logger *slog.Logger, config *quic.Config) (*quic.Conn, error) {
	if config == nil {
		config = DefaultClientQUICConfig()
	}

	logger.Debug("QUIC dial starting", "remote_addr", remoteAddr, "local_addr", udpConn.LocalAddr())

	conn, err := quic.Dial(ctx, udpConn, remoteAddr, ClientConfig(), config)
	if err != nil {
		logger.Error("QUIC dial failed", "error", err, "remote_addr", remoteAddr)
		return nil, err
	}

	logger.Debug("QUIC connection established", "remote_addr", remoteAddr)
	return conn, nil
}
