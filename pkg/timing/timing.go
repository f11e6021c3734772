// Package timing provides performance measurement utilities for HTTP requests.
// It is ambient instrumentation: nothing in pkg/client requires it to
// function, but every request path fills one in and attaches it to the
// Response it returns.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures detailed timing information for a request. Phases that
// don't apply to a given request (TLS for plain http, DNS when resolution
// happens inside the dial) are left zero.
type Metrics struct {
	DNSLookup    time.Duration `json:"dns_lookup"`
	TCPConnect   time.Duration `json:"tcp_connect"`
	TLSHandshake time.Duration `json:"tls_handshake"`
	TTFB         time.Duration `json:"ttfb"`
	TotalTime    time.Duration `json:"total_time"`
}

// Timer helps measure request timings across the phases of a single request.
type Timer struct {
	start     time.Time
	dnsStart  time.Time
	dnsEnd    time.Time
	tcpStart  time.Time
	tcpEnd    time.Time
	tlsStart  time.Time
	tlsEnd    time.Time
	ttfbStart time.Time
	ttfbEnd   time.Time
}

// NewTimer creates a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartDNS marks the beginning of DNS resolution.
func (t *Timer) StartDNS() { t.dnsStart = time.Now() }

// EndDNS marks the end of DNS resolution.
func (t *Timer) EndDNS() { t.dnsEnd = time.Now() }

// StartTCP marks the beginning of TCP connection.
func (t *Timer) StartTCP() { t.tcpStart = time.Now() }

// EndTCP marks the end of TCP connection.
func (t *Timer) EndTCP() { t.tcpEnd = time.Now() }

// StartTLS marks the beginning of the TLS handshake.
func (t *Timer) StartTLS() { t.tlsStart = time.Now() }

// EndTLS marks the end of the TLS handshake.
func (t *Timer) EndTLS() { t.tlsEnd = time.Now() }

// StartTTFB marks when the client starts waiting for the first response byte.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks the end of the wait for the response. pkg/client calls it
// once the status line and all headers have been parsed, so TTFB includes
// the time to receive the headers.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// Metrics returns the calculated timing metrics. Safe to call before the
// request finishes, to capture partial timings on an error path.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	return m
}

// ConnectionTime returns the total connection establishment time (DNS + TCP + TLS).
func (m Metrics) ConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("dns=%v tcp=%v tls=%v ttfb=%v total=%v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.TTFB, m.TotalTime)
}
