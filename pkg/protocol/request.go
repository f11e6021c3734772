package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/flowtap/rawhttp/pkg/errors"
	"github.com/flowtap/rawhttp/pkg/netio"
	"github.com/flowtap/rawhttp/pkg/pool"
)

// Header is a single request or response header field. Request-side
// headers are emitted, and response-side headers are delivered, in
// insertion order; duplicates are preserved rather than merged.
type Header struct {
	Name  string
	Value string
}

// QueryParam is a single query-string key/value pair. When building the
// request path, values sharing a name keep their given order, but
// net/url.Values.Encode (the external percent-encoder this serializer
// calls) sorts the names, so the given order across different names is not
// kept in the final query string.
type QueryParam struct {
	Name  string
	Value string
}

// Request is the caller-supplied descriptor for one HTTP/1.1 request.
// Method, Path, and Headers are emitted verbatim; the serializer never
// injects Host, Content-Length, Transfer-Encoding, or Connection — the
// caller owns framing.
type Request struct {
	Method  string
	Path    string
	Params  []QueryParam
	Headers []Header
	Body    BodyStream
}

// BuildPath composes the request-line path from a base path and an ordered
// sequence of query parameters, percent-encoding through the standard
// library's net/url.Values rather than reimplementing the encoder.
func BuildPath(path string, params []QueryParam) string {
	if path == "" {
		path = "/"
	}
	if len(params) == 0 {
		return path
	}
	values := url.Values{}
	for _, p := range params {
		values.Add(p.Name, p.Value)
	}
	return path + "?" + values.Encode()
}

// WriteRequest serializes req onto conn: request line, headers verbatim,
// terminating CRLF, then the drained body source. Each write (the head, then
// every body chunk) is bounded by its own fresh timeout; a stall past that
// deadline surfaces as a *Data error with a timeout cause. HTTP-phase deadlines are *Data*, never *Timeout*;
// that kind is reserved for pkg/scope.
func WriteRequest(ctx context.Context, conn *pool.Conn, req Request, timeout time.Duration) error {
	var head bytes.Buffer
	head.WriteString(req.Method)
	head.WriteByte(' ')
	head.WriteString(BuildPath(req.Path, req.Params))
	head.WriteString(" HTTP/1.1\r\n")

	for _, h := range req.Headers {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return errors.NewDataError("serialize", fmt.Sprintf("invalid header field name %q", h.Name), nil)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return errors.NewDataError("serialize", fmt.Sprintf("invalid header field value for %q", h.Name), nil)
		}
		head.WriteString(h.Name)
		head.WriteString(": ")
		head.WriteString(h.Value)
		head.WriteString("\r\n")
	}
	head.WriteString("\r\n")

	if _, err := netio.Write(ctx, conn.NetConn, head.Bytes(), timeout); err != nil {
		return wrapWriteErr(ctx, err)
	}

	if req.Body == nil {
		return nil
	}
	for {
		chunk, err := req.Body.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewDataError("serialize", "reading request body source", err)
		}
		if len(chunk) == 0 {
			continue
		}
		if _, err := netio.Write(ctx, conn.NetConn, chunk, timeout); err != nil {
			return wrapWriteErr(ctx, err)
		}
	}
}

func wrapWriteErr(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return errors.NewCancelledError("write", context.Canceled)
	}
	if errors.IsTimeoutError(err) {
		return errors.NewDataError("write", "timed out writing request", err)
	}
	return errors.NewDataError("write", "writing request", err)
}
