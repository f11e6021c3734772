// Package rawhttp is a minimal HTTP/1.1 client library built directly on
// non-blocking TCP/TLS sockets: a keep-alive connection pool, a streaming
// wire codec that parses a response lazily as its body is consumed, and a
// cooperative timeout primitive for bounding arbitrary async work. It re-
// exports the package surface needed for everyday use so most callers only
// ever import this one package.
package rawhttp

import (
	"context"
	"time"

	"github.com/flowtap/rawhttp/pkg/buffer"
	"github.com/flowtap/rawhttp/pkg/client"
	"github.com/flowtap/rawhttp/pkg/errors"
	"github.com/flowtap/rawhttp/pkg/protocol"
	"github.com/flowtap/rawhttp/pkg/scope"
	"github.com/flowtap/rawhttp/pkg/timing"
)

// Version is the current version of the rawhttp library.
const Version = "1.0.0"

// Re-export key types so most callers need only import this package.
type (
	// Config controls pool sizing, phase timeouts, and TLS policy. See
	// pkg/client.Config for field documentation and defaults.
	Config = client.Config

	// Request is the descriptor for one call to Do.
	Request = client.Request

	// Response is the parsed status line, headers, and lazy Body stream
	// returned by Do.
	Response = protocol.Response

	// Header is a single request or response header field.
	Header = protocol.Header

	// QueryParam is a single query-string key/value pair.
	QueryParam = protocol.QueryParam

	// BodyStream is a lazy, finite sequence of response or request body
	// chunks; Next returns io.EOF once exhausted.
	BodyStream = protocol.BodyStream

	// Buffer provides memory-efficient storage with disk spilling, used
	// by Buffered to accumulate a BodyStream.
	Buffer = buffer.Buffer

	// Metrics captures per-phase request timing (DNS/TCP/TLS/TTFB/total).
	Metrics = timing.Metrics

	// Error is the structured error type every package in this module
	// reports failures through.
	Error = errors.Error

	// Kind categorizes an Error: Connection, TLS, Data, Timeout,
	// Cancelled, or Validation.
	Kind = errors.Kind
)

// Re-export error kinds for convenience.
const (
	KindConnection = errors.KindConnection
	KindTLS        = errors.KindTLS
	KindData       = errors.KindData
	KindTimeout    = errors.KindTimeout
	KindCancelled  = errors.KindCancelled
	KindValidation = errors.KindValidation
)

// Pool is a keep-alive connection pool bound to one TLS policy and one set
// of phase timeouts, shared across every call to Do.
type Pool = client.Pool

// NewPool constructs a Pool. cfg's zero value resolves to recv_bufsize=
// 16384, keep_alive_timeout=15s, connect_timeout=10s, request_timeout=10s,
// body_timeout=10s.
func NewPool(cfg Config) *Pool {
	return client.NewPool(cfg)
}

// Buffered drains body into a disk-spilling Buffer, for callers who want
// the whole response in hand rather than streaming it chunk by chunk.
func Buffered(ctx context.Context, body BodyStream) (*Buffer, error) {
	return client.Buffered(ctx, body)
}

// Streamed adapts a single in-memory byte slice into a one-shot request
// body.
func Streamed(data []byte) BodyStream {
	return client.Streamed(data)
}

// Timeout bounds fn by duration d, racing a timer against fn's completion
// and ctx's own cancellation. See pkg/scope.Run for the full contract: a
// timer firing first is translated into a *Timeout error once the region
// observes its own cancellation; external cancellation is reported as
// *Cancelled and never *Timeout.
func Timeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	return scope.Run(ctx, d, fn)
}

// IsTimeoutError reports whether err is a *Timeout kind, a timed-out
// net.Error, or a context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	return errors.IsTimeoutError(err)
}

// IsCancelled reports whether err is a *Cancelled kind or a
// context.Canceled.
func IsCancelled(err error) bool {
	return errors.IsCancelled(err)
}

// GetKind returns the Kind of err if it is a structured Error, or "" otherwise.
func GetKind(err error) Kind {
	return errors.GetKind(err)
}
