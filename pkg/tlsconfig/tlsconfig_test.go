package tlsconfig

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	stderrors "errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/flowtap/rawhttp/pkg/errors"
)

// selfSignedConfig builds a server tls.Config around a freshly generated
// self-signed certificate for 127.0.0.1.
func selfSignedConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
	}
}

func startTLSServer(t *testing.T) string {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", selfSignedConfig(t))
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				// Drive the handshake (which the client either completes or
				// aborts), then close after the first read returns.
				buf := make([]byte, 1)
				c.Read(buf)
				c.Close()
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestHandshakeSelfSignedDefaultTrustRejected(t *testing.T) {
	addr := startTLSServer(t)

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	_, err = Handshake(context.Background(), raw, nil, "127.0.0.1", 0)
	if err == nil {
		t.Fatal("expected a self-signed certificate to be rejected under default trust")
	}
	if errors.GetKind(err) != errors.KindTLS {
		t.Fatalf("expected TLS kind, got %v", err)
	}
	var certErr *tls.CertificateVerificationError
	if !stderrors.As(err, &certErr) {
		t.Fatalf("expected certificate verification cause to be preserved, got %v", err)
	}
}

func TestHandshakeInsecureSkipVerifySucceeds(t *testing.T) {
	addr := startTLSServer(t)

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	conn, err := Handshake(context.Background(), raw, &tls.Config{InsecureSkipVerify: true}, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	Unwrap(conn)
}

func TestHandshakeDoesNotMutateCallerConfig(t *testing.T) {
	addr := startTLSServer(t)

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	cfg := &tls.Config{InsecureSkipVerify: true}
	if _, err := Handshake(context.Background(), raw, cfg, "127.0.0.1", 0); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if cfg.ServerName != "" {
		t.Fatalf("expected caller config to be untouched, ServerName=%q", cfg.ServerName)
	}
}

func TestApplyVersionProfile(t *testing.T) {
	cfg := &tls.Config{}
	ApplyVersionProfile(cfg, ProfileSecure)
	if cfg.MinVersion != VersionTLS12 || cfg.MaxVersion != VersionTLS13 {
		t.Fatalf("unexpected version range: %x..%x", cfg.MinVersion, cfg.MaxVersion)
	}
}

func TestApplyCipherSuites(t *testing.T) {
	cfg := &tls.Config{}
	ApplyCipherSuites(cfg, VersionTLS12)
	if len(cfg.CipherSuites) == 0 {
		t.Fatal("expected TLS 1.2 cipher suites to be applied")
	}
	ApplyCipherSuites(cfg, VersionTLS13)
	if cfg.CipherSuites != nil {
		t.Fatal("expected TLS 1.3 to clear explicit cipher suites")
	}
}

func TestGetVersionName(t *testing.T) {
	if GetVersionName(VersionTLS13) != "TLS 1.3" {
		t.Fatal("unexpected name for TLS 1.3")
	}
	if GetVersionName(0x0301) != "Unknown" {
		t.Fatal("expected unsupported versions to report Unknown")
	}
}

func TestIsVersionDeprecated(t *testing.T) {
	if IsVersionDeprecated(VersionTLS12) {
		t.Fatal("TLS 1.2 must not be deprecated")
	}
	if !IsVersionDeprecated(0x0302) {
		t.Fatal("TLS 1.1 must be deprecated")
	}
}
