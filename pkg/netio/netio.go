// Package netio is the async socket I/O shim: non-blocking connect, send,
// recv, and shutdown expressed over net.Conn. Go's net package already
// multiplexes readiness onto a runtime-managed poller, so "suspend the
// caller until writable/readable, then retry" becomes a goroutine-blocking
// call on net.Conn; what this package adds on top is cooperative
// cancellation and partial-write handling.
package netio

import (
	"context"
	"net"
	"time"
)

// Dial connects to addr over network, bounded by timeout and by ctx.
func Dial(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, network, addr)
}

// halfCloser is implemented by *net.TCPConn and *tls.Conn.
type halfCloser interface {
	CloseWrite() error
}

// Write drains p onto conn, looping over partial writes until the buffer is
// fully written or an error occurs. deadline bounds the whole call if
// positive; a zero deadline means no deadline is set. Cancelling ctx pulls
// the connection's write deadline into the past, which unblocks any
// in-flight conn.Write with a timeout error — the moral equivalent of
// deregistering a writer on cancellation.
func Write(ctx context.Context, conn net.Conn, p []byte, deadline time.Duration) (int, error) {
	if deadline > 0 {
		conn.SetWriteDeadline(time.Now().Add(deadline))
		defer conn.SetWriteDeadline(time.Time{})
	}
	stop := watchCancellation(ctx, conn)
	defer stop()

	var written int
	for written < len(p) {
		n, err := conn.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Read issues a single conn.Read bounded by deadline (if positive) and by
// ctx. It returns whatever net.Conn.Read returns; callers loop themselves
// if they need more bytes.
func Read(ctx context.Context, conn net.Conn, buf []byte, deadline time.Duration) (int, error) {
	if deadline > 0 {
		conn.SetReadDeadline(time.Now().Add(deadline))
		defer conn.SetReadDeadline(time.Time{})
	}
	stop := watchCancellation(ctx, conn)
	defer stop()

	return conn.Read(buf)
}

// Shutdown half-closes the write side (TCP FIN) when the connection
// supports it, then fully closes it.
func Shutdown(conn net.Conn) error {
	if hc, ok := conn.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
	return conn.Close()
}

// watchCancellation registers exactly one goroutine per call that races
// ctx.Done() against an explicit stop signal; firing ctx.Done() first pulls
// the connection's deadline to a moment already in the past, which is what
// "deregister reader/writer on cancellation" becomes when the readiness
// predicate is implicit in net.Conn. The returned stop func deregisters the
// watcher and must always be called.
func watchCancellation(ctx context.Context, conn net.Conn) (stop func()) {
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Unix(0, 1))
		case <-stopCh:
		}
	}()

	return func() {
		close(stopCh)
		<-doneCh
	}
}
