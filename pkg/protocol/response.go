package protocol

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/flowtap/rawhttp/pkg/errors"
	"github.com/flowtap/rawhttp/pkg/netio"
	"github.com/flowtap/rawhttp/pkg/pool"
	"github.com/flowtap/rawhttp/pkg/timing"
)

const (
	maxHeaderBytes    = 64 * 1024
	maxChunkLineBytes = 8 * 1024
)

var errLineTooLong = stderrors.New("line exceeds maximum size")

// Response is the descriptor yielded to the caller of a request: a status
// code, headers in receipt order (duplicates preserved, names as received
// but matched case-insensitively), and a lazy Body stream.
type Response struct {
	Status  string
	Headers []Header
	Body    BodyStream

	// Metrics carries the request's phase timings. It is filled in by
	// pkg/client; ParseResponse itself leaves it zero-valued.
	Metrics timing.Metrics
}

// HeaderValue returns the first header value matching name
// case-insensitively, or "" if absent.
func (r *Response) HeaderValue(name string) string {
	return headerValue(r.Headers, name)
}

func headerValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// connReader adapts a leased pool.Conn into an io.Reader bounded by a
// per-call context and timeout. bufio.Reader wraps exactly one of these,
// which is what makes it "the parser's single fixed-size read buffer":
// ctx/timeout are mutated before each logical read so one bufio.Reader can
// serve the headers phase and every later body-stream Next call, each
// under its own deadline.
type connReader struct {
	ctx     context.Context
	conn    net.Conn
	timeout time.Duration
}

func (r *connReader) Read(p []byte) (int, error) {
	n, err := netio.Read(r.ctx, r.conn, p, r.timeout)
	if err != nil && r.ctx.Err() == context.Canceled {
		// The cancellation watcher unblocked the read by pulling the
		// deadline; report the cancellation, not the synthetic timeout.
		return n, context.Canceled
	}
	return n, err
}

// ParseResponse reads a status line and headers from conn under
// headersTimeout, selects the body framing mode from the headers, and
// returns a Response whose Body lazily drains the rest under bodyTimeout
// per chunk.
// On any error before headers finish, conn is released as non-reusable.
func ParseResponse(ctx context.Context, conn *pool.Conn, pl *pool.Pool, recvBufSize int, headersTimeout, bodyTimeout time.Duration) (*Response, error) {
	cr := &connReader{ctx: ctx, conn: conn.NetConn, timeout: headersTimeout}
	br := bufio.NewReaderSize(cr, recvBufSize)

	statusLine, err := readLine(br, maxHeaderBytes)
	if err != nil {
		pl.Release(conn, false)
		return nil, classifyReadErr(err, "reading status line")
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) != 3 {
		pl.Release(conn, false)
		return nil, errors.NewDataError("parse", "malformed status line", nil)
	}
	status := parts[1]
	if len(status) != 3 {
		pl.Release(conn, false)
		return nil, errors.NewDataError("parse", "malformed status code", nil)
	}

	headers, err := readHeaders(br)
	if err != nil {
		pl.Release(conn, false)
		return nil, err
	}

	spec, err := selectBodyMode(headers)
	if err != nil {
		pl.Release(conn, false)
		return nil, err
	}

	body := newBodyStream(conn, pl, cr, br, spec, recvBufSize, bodyTimeout)
	return &Response{Status: status, Headers: headers, Body: body}, nil
}

func readLine(br *bufio.Reader, maxBytes int) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxBytes {
		return "", errLineTooLong
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readHeaders(br *bufio.Reader) ([]Header, error) {
	var headers []Header
	total := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, classifyReadErr(err, "reading headers")
		}
		total += len(line)
		if total > maxHeaderBytes {
			return nil, errors.NewDataError("parse", "headers exceed maximum size", nil)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return headers, nil
		}
		idx := strings.IndexByte(trimmed, ':')
		if idx < 0 {
			return nil, errors.NewDataError("parse", "malformed header line", nil)
		}
		headers = append(headers, Header{
			Name:  trimmed[:idx],
			Value: strings.TrimSpace(trimmed[idx+1:]),
		})
	}
}

type bodyMode int

const (
	modeIdentity bodyMode = iota
	modeChunked
)

type bodySpec struct {
	mode   bodyMode
	length int64
}

// selectBodyMode implements the mutual-exclusion rule: a present
// transfer-encoding: chunked wins outright over content-length.
func selectBodyMode(headers []Header) (bodySpec, error) {
	if te := headerValue(headers, "transfer-encoding"); te != "" {
		for _, tok := range strings.Split(te, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
				return bodySpec{mode: modeChunked}, nil
			}
		}
	}
	if cl := headerValue(headers, "content-length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return bodySpec{}, errors.NewDataError("parse", "invalid content-length", nil)
		}
		return bodySpec{mode: modeIdentity, length: n}, nil
	}
	return bodySpec{mode: modeIdentity, length: 0}, nil
}

func classifyReadErr(err error, op string) error {
	switch {
	case err == errLineTooLong:
		return errors.NewDataError("parse", op+": line too long", nil)
	case err == io.EOF:
		return errors.NewDataError("parse", "unexpected EOF "+op, io.ErrUnexpectedEOF)
	case stderrors.Is(err, context.Canceled):
		return errors.NewCancelledError(op, err)
	case errors.IsTimeoutError(err):
		return errors.NewDataError("parse", "timed out "+op, err)
	default:
		return errors.NewDataError("parse", op, err)
	}
}

// chunkReadState is the pending state of a chunked body between Next calls.
type chunkReadState int

const (
	awaitSize chunkReadState = iota
	inChunk
	awaitTrailerCRLF
	chunkDone
)

// bodyStream is the suspension-friendly state machine behind a
// Response.Body, in either identity or chunked mode, continued one
// Next(ctx) call at a time. It owns the connection's release back to the
// pool on clean completion, and marks it non-reusable on any error or
// explicit Close.
type bodyStream struct {
	conn    *pool.Conn
	pool    *pool.Pool
	cr      *connReader
	br      *bufio.Reader
	timeout time.Duration
	recvBuf int

	mode      bodyMode
	remaining int64 // identity: bytes still owed to the caller

	chunkState     chunkReadState
	chunkRemaining int64

	released bool
}

func newBodyStream(conn *pool.Conn, pl *pool.Pool, cr *connReader, br *bufio.Reader, spec bodySpec, recvBuf int, bodyTimeout time.Duration) *bodyStream {
	bs := &bodyStream{
		conn:    conn,
		pool:    pl,
		cr:      cr,
		br:      br,
		timeout: bodyTimeout,
		recvBuf: recvBuf,
		mode:    spec.mode,
	}
	if spec.mode == modeIdentity {
		bs.remaining = spec.length
	} else {
		bs.chunkState = awaitSize
	}
	return bs
}

// Next yields the next chunk of the body, or io.EOF once exhausted.
func (bs *bodyStream) Next(ctx context.Context) ([]byte, error) {
	if bs.mode == modeIdentity {
		return bs.nextIdentity(ctx)
	}
	return bs.nextChunked(ctx)
}

// Close discards the remainder of the body, forcing the leased connection
// non-reusable. Safe to call after a clean EOF (a no-op, since finish is
// idempotent) or mid-stream, the contractual path when a caller abandons a
// partially-read body.
func (bs *bodyStream) Close() error {
	bs.finish(false)
	return nil
}

func (bs *bodyStream) finish(reusable bool) {
	if bs.released {
		return
	}
	bs.released = true
	bs.pool.Release(bs.conn, reusable)
}

func (bs *bodyStream) readFill(ctx context.Context, buf []byte) (int, error) {
	bs.cr.ctx = ctx
	bs.cr.timeout = bs.timeout
	for {
		n, err := bs.br.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			return 0, classifyReadErr(err, "reading body")
		}
	}
}

func (bs *bodyStream) nextIdentity(ctx context.Context) ([]byte, error) {
	if bs.remaining <= 0 {
		bs.finish(true)
		return nil, io.EOF
	}
	n := bs.recvBuf
	if int64(n) > bs.remaining {
		n = int(bs.remaining)
	}
	buf := make([]byte, n)
	read, err := bs.readFill(ctx, buf)
	if err != nil {
		bs.finish(false)
		return nil, err
	}
	bs.remaining -= int64(read)
	return buf[:read], nil
}

func (bs *bodyStream) nextChunked(ctx context.Context) ([]byte, error) {
	bs.cr.ctx = ctx
	bs.cr.timeout = bs.timeout

	for {
		switch bs.chunkState {
		case awaitSize:
			line, err := readLine(bs.br, maxChunkLineBytes)
			if err != nil {
				bs.finish(false)
				return nil, classifyReadErr(err, "reading chunk size")
			}
			sizeText := line
			if idx := strings.IndexByte(line, ';'); idx >= 0 {
				sizeText = line[:idx]
			}
			size, err := strconv.ParseInt(strings.TrimSpace(sizeText), 16, 64)
			if err != nil || size < 0 {
				bs.finish(false)
				return nil, errors.NewDataError("parse", "invalid chunk size", nil)
			}
			if size == 0 {
				bs.chunkState = awaitTrailerCRLF
				continue
			}
			bs.chunkRemaining = size
			bs.chunkState = inChunk

		case inChunk:
			n := bs.recvBuf
			if int64(n) > bs.chunkRemaining {
				n = int(bs.chunkRemaining)
			}
			buf := make([]byte, n)
			read, err := bs.readFill(ctx, buf)
			if err != nil {
				bs.finish(false)
				return nil, err
			}
			bs.chunkRemaining -= int64(read)
			if bs.chunkRemaining == 0 {
				crlf := make([]byte, 2)
				if _, err := io.ReadFull(bs.br, crlf); err != nil {
					bs.finish(false)
					return nil, classifyReadErr(err, "reading chunk trailing CRLF")
				}
				if crlf[0] != '\r' || crlf[1] != '\n' {
					bs.finish(false)
					return nil, errors.NewDataError("parse", "chunk data not terminated by CRLF", nil)
				}
				bs.chunkState = awaitSize
			}
			return buf[:read], nil

		case awaitTrailerCRLF:
			for {
				line, err := readLine(bs.br, maxHeaderBytes)
				if err != nil {
					bs.finish(false)
					return nil, classifyReadErr(err, "reading chunk trailer")
				}
				if line == "" {
					break
				}
			}
			bs.chunkState = chunkDone

		case chunkDone:
			bs.finish(true)
			return nil, io.EOF
		}
	}
}
