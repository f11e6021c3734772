// Package client ties the connection pool, TLS handshake, and HTTP/1.1
// wire codec together behind the single Do entry point: parse the target
// URL, acquire a pooled connection (dialing and, for https, handshaking if
// none is idle), serialize the request, and parse the response through end
// of headers. The returned Response's Body is then the caller's to drain.
package client

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/flowtap/rawhttp/pkg/buffer"
	"github.com/flowtap/rawhttp/pkg/errors"
	"github.com/flowtap/rawhttp/pkg/hostutil"
	"github.com/flowtap/rawhttp/pkg/netio"
	"github.com/flowtap/rawhttp/pkg/pool"
	"github.com/flowtap/rawhttp/pkg/protocol"
	"github.com/flowtap/rawhttp/pkg/timing"
	"github.com/flowtap/rawhttp/pkg/tlsconfig"
)

// Config controls pool sizing, phase timeouts, and TLS policy. Its zero
// value resolves through pool.Config's defaults: recv_bufsize=16384,
// keep_alive_timeout=15s, connect_timeout=10s, request_timeout=10s,
// body_timeout=10s. TLSConfig is never defaulted to an insecure policy; a
// nil TLSConfig on an https request verifies against the system root
// store, the same as crypto/tls's own zero value.
type Config struct {
	RecvBufSize      int
	KeepAliveTimeout time.Duration
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	BodyTimeout      time.Duration
	MaxConnsPerHost  int

	// TLSConfig is cloned (never mutated) per dial by pkg/tlsconfig.
	// ServerName defaults to the IDNA-normalized request host when unset.
	TLSConfig *tls.Config
}

func (c Config) poolConfig() pool.Config {
	return pool.Config{
		KeepAliveTimeout: c.KeepAliveTimeout,
		RecvBufSize:      c.RecvBufSize,
		ConnectTimeout:   c.ConnectTimeout,
		RequestTimeout:   c.RequestTimeout,
		BodyTimeout:      c.BodyTimeout,
		MaxConnsPerHost:  c.MaxConnsPerHost,
	}
}

// Request is the caller-supplied descriptor for one call to Do. URL is
// parsed with the standard library's net/url.Parse; only the scheme, host,
// port, and path are taken from it. RawQuery is ignored in favor of
// Params, so callers building the query string programmatically don't have
// to pre-encode it.
type Request struct {
	Method  string
	URL     string
	Params  []protocol.QueryParam
	Headers []protocol.Header
	Body    protocol.BodyStream
}

// Pool is the public entry point: a connection pool bound to one TLS
// policy and one set of phase timeouts, shared across every call to Do.
type Pool struct {
	pool *pool.Pool
	cfg  Config
}

// NewPool constructs a Pool. See Config for the defaults applied to a zero
// value.
func NewPool(cfg Config) *Pool {
	return &Pool{
		pool: pool.New(cfg.poolConfig()),
		cfg:  cfg,
	}
}

// Close discards every Idle pooled connection and rejects future Acquire
// calls. Connections currently leased to an in-flight Do are left for
// their caller to finish draining; see pool.Pool.Close.
func (p *Pool) Close() error {
	return p.pool.Close()
}

// Do executes one HTTP/1.1 request: URL parse and host normalization,
// pooled connection acquire (dialing and, for https, TLS handshake, under
// the connect timeout), request serialization (under the request timeout),
// and response parsing through end of headers (under that same request
// timeout; one knob covers both phases). The returned Response.Body must
// be drained or explicitly Close()d by the caller; abandoning it
// mid-stream marks the underlying connection non-reusable.
func (p *Pool) Do(ctx context.Context, req Request) (*protocol.Response, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, errors.NewValidationError("invalid request URL: " + err.Error())
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, errors.NewValidationError("unsupported scheme: " + target.Scheme)
	}
	if target.Host == "" {
		return nil, errors.NewValidationError("request URL has no host")
	}

	host := hostutil.Normalize(target.Hostname())
	port := defaultPort(target)

	key := pool.Key{Scheme: target.Scheme, Host: host, Port: port}
	timer := timing.NewTimer()

	conn, err := p.pool.Acquire(ctx, key, p.dialer(key, timer))
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = "GET"
	}
	wireReq := protocol.Request{
		Method:  method,
		Path:    target.Path,
		Params:  req.Params,
		Headers: req.Headers,
		Body:    req.Body,
	}

	timer.StartTTFB()
	if err := protocol.WriteRequest(ctx, conn, wireReq, p.pool.Config().RequestTimeout); err != nil {
		p.pool.Release(conn, false)
		return nil, err
	}

	resp, err := protocol.ParseResponse(ctx, conn, p.pool, p.pool.Config().RecvBufSize, p.pool.Config().RequestTimeout, p.pool.Config().BodyTimeout)
	if err != nil {
		return nil, err
	}
	timer.EndTTFB()
	resp.Metrics = timer.Metrics()
	return resp, nil
}

// dialer builds the dial closure pool.Acquire invokes on a pool miss: TCP
// connect, then (for https keys) a TLS handshake using cfg.TLSConfig and
// key.Host as SNI, both together bounded by the connect timeout. DNS
// resolution is folded into net.Dialer.DialContext rather than split out as
// a separate phase, so the DNS metric is left zero.
func (p *Pool) dialer(key pool.Key, timer *timing.Timer) func(context.Context) (net.Conn, error) {
	return func(ctx context.Context) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, p.pool.Config().ConnectTimeout)
		defer cancel()

		addr := net.JoinHostPort(key.Host, strconv.Itoa(key.Port))

		timer.StartTCP()
		conn, err := netio.Dial(ctx, "tcp", addr, p.pool.Config().ConnectTimeout)
		timer.EndTCP()
		if err != nil {
			return nil, errors.NewConnectionError(key.Host, key.Port, err)
		}

		if key.Scheme != "https" {
			return conn, nil
		}

		timer.StartTLS()
		tlsConn, err := tlsconfig.Handshake(ctx, conn, p.cfg.TLSConfig, key.Host, key.Port)
		timer.EndTLS()
		if err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
}

func defaultPort(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err == nil {
			return n
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

// Buffered drains body into a disk-spilling buffer.Buffer, for callers who
// want the whole response in hand rather than streaming it chunk by chunk.
// The stream is fully consumed, so on success the underlying connection
// has already been released for reuse.
func Buffered(ctx context.Context, body protocol.BodyStream) (*buffer.Buffer, error) {
	buf := buffer.New(buffer.DefaultMemoryLimit)
	for {
		chunk, err := body.Next(ctx)
		if len(chunk) > 0 {
			if _, werr := buf.Write(chunk); werr != nil {
				buf.Close()
				return nil, werr
			}
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			buf.Close()
			return nil, err
		}
	}
}

// Streamed adapts a single in-memory byte slice into a one-shot request
// body, re-exporting protocol.Streamed so callers need only import
// pkg/client for the common case.
func Streamed(data []byte) protocol.BodyStream {
	return protocol.Streamed(data)
}
