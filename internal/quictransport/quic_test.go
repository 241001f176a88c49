package quictransport

import (
	"crypto/tls"
	"testing"
)

func TestServerConfig(t *testing.T) {
	config, err := ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(config.Certificates) == 0 {
		t.Fatal("ServerConfig has no certificates")
	}
	if !hasProto(config, ALPNProtocol) {
		t.Errorf("ServerConfig NextProtos does not contain %s", ALPNProtocol)
	}
	if config.MinVersion != tls.VersionTLS13 {
		t.Errorf("expected TLS 1.3 minimum")
	}

	cert := config.Certificates[0]
	if cert.PrivateKey == nil {
		t.Error("Certificate has no private key")
	}
	if len(cert.Certificate) == 0 {
		t.Error("Certificate has no certificate bytes")
	}
}

func TestClientConfig(t *testing.T) {
	config := ClientConfig()
	if !config.InsecureSkipVerify {
		t.Error("ClientConfig InsecureSkipVerify should be true")
	}
	if !hasProto(config, ALPNProtocol) {
		t.Errorf("ClientConfig NextProtos does not contain %s", ALPNProtocol)
	}
}

func TestDefaultQUICConfigs(t *testing.T) {
	srv := DefaultServerQUICConfig()
	if srv.MaxIncomingStreams != 1 {
		t.Errorf("server should accept exactly one stream per session, got %d", srv.MaxIncomingStreams)
	}
	cli := DefaultClientQUICConfig()
	if cli.MaxStreamReceiveWindow < srv.MaxStreamReceiveWindow {
		t.Errorf("client receive window should not be smaller than server's")
	}
}

func hasProto(config *tls.Config, proto string) bool {
	for _, p := range config.NextProtos {
		if p == proto {
			return true
		}
	}
	return false
}
