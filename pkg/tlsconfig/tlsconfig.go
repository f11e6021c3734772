// Package tlsconfig provides helpers and constants for TLS configuration,
// plus the handshake/unwrap operations that drive a connected socket through
// TLS. The caller always supplies the trust policy; this package never
// installs a default root store or silently relaxes verification.
package tlsconfig

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/flowtap/rawhttp/pkg/errors"
)

// TLS Protocol Versions
// These constants provide easy access to TLS version identifiers
const (
	// TLS 1.2 (RECOMMENDED - widely supported and secure)
	// This is the minimum version this client will negotiate
	VersionTLS12 uint16 = tls.VersionTLS12 // 0x0303

	// TLS 1.3 (PREFERRED - most secure, modern standard)
	// Use this when both client and server support it
	VersionTLS13 uint16 = tls.VersionTLS13 // 0x0304
)

// VersionProfile is a pre-configured TLS version range for a common use case.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	// Modern - TLS 1.3 only (most secure, may not work with all servers)
	ProfileModern = VersionProfile{
		Min:         VersionTLS13,
		Max:         VersionTLS13,
		Description: "TLS 1.3 only - maximum security, modern servers only",
	}

	// Secure - TLS 1.2 and 1.3 (the default applied when the caller
	// supplies no tls.Config of their own)
	ProfileSecure = VersionProfile{
		Min:         VersionTLS12,
		Max:         VersionTLS13,
		Description: "TLS 1.2+ - secure and widely compatible",
	}
)

// GetVersionName returns a human-readable name for a TLS version.
func GetVersionName(version uint16) string {
	switch version {
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// IsVersionDeprecated returns true if the version is deprecated/insecure.
func IsVersionDeprecated(version uint16) bool {
	return version < VersionTLS12
}

// Recommended Cipher Suites
// AEAD-only suites for each protocol version
var (
	// TLS 1.3 Cipher Suites (chosen automatically by crypto/tls)
	CipherSuitesTLS13 = []uint16{
		tls.TLS_AES_128_GCM_SHA256,
		tls.TLS_AES_256_GCM_SHA384,
		tls.TLS_CHACHA20_POLY1305_SHA256,
	}

	// TLS 1.2 Secure Cipher Suites (ECDHE with AEAD)
	CipherSuitesTLS12Secure = []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}
)

// ApplyVersionProfile applies a pre-configured version profile to a tls.Config.
func ApplyVersionProfile(config *tls.Config, profile VersionProfile) {
	config.MinVersion = profile.Min
	config.MaxVersion = profile.Max
}

// ApplyCipherSuites applies recommended cipher suites based on minimum TLS version.
func ApplyCipherSuites(config *tls.Config, minVersion uint16) {
	if minVersion >= VersionTLS13 {
		// TLS 1.3 uses its own cipher suites automatically
		config.CipherSuites = nil
		return
	}
	config.CipherSuites = CipherSuitesTLS12Secure
}

// Handshake drives a connected socket through the TLS client handshake and
// returns the wrapped, encrypted connection. cfg is never mutated: it is
// cloned first, so the caller's trust policy (RootCAs, InsecureSkipVerify,
// and everything else) is carried unchanged and this package never installs
// a default root store or silently relaxes verification. A nil cfg verifies
// against the system root store with the Secure profile's version range. If
// cfg.ServerName is unset, serverName (the already IDNA-normalized host) is
// used for SNI and certificate verification.
//
// crypto/tls.Conn.HandshakeContext performs the entire want-read/want-write
// loop against the socket internally, which is the Go realization of the
// handshake loop this package's callers would otherwise have to drive by
// hand against WantRead/WantWrite signals.
func Handshake(ctx context.Context, conn net.Conn, cfg *tls.Config, serverName string, port int) (*tls.Conn, error) {
	var effective *tls.Config
	if cfg != nil {
		effective = cfg.Clone()
	} else {
		effective = &tls.Config{}
		ApplyVersionProfile(effective, ProfileSecure)
	}
	if effective.ServerName == "" {
		effective.ServerName = serverName
	}

	tlsConn := tls.Client(conn, effective)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errors.NewTLSError(serverName, port, err)
	}
	return tlsConn, nil
}

// Unwrap performs the symmetric close of a TLS session: it sends
// close_notify via the record layer before the caller proceeds to shut
// down the underlying raw socket. The underlying net.Conn is not closed
// here; callers close it separately once Unwrap returns.
func Unwrap(conn *tls.Conn) error {
	if conn == nil {
		return nil
	}
	// best-effort; the caller closes the raw socket regardless
	_ = conn.CloseWrite()
	return nil
}
