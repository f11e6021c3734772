package protocol

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/flowtap/rawhttp/pkg/pool"
)

func newTestConn(t *testing.T) (*pool.Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return &pool.Conn{Key: pool.Key{Scheme: "http", Host: "example.com", Port: 80}, NetConn: client}, server
}

func TestBuildPathNoParams(t *testing.T) {
	if got := BuildPath("/widgets", nil); got != "/widgets" {
		t.Fatalf("expected /widgets, got %q", got)
	}
}

func TestBuildPathDefaultsToRoot(t *testing.T) {
	if got := BuildPath("", nil); got != "/" {
		t.Fatalf("expected /, got %q", got)
	}
}

func TestBuildPathEncodesParams(t *testing.T) {
	got := BuildPath("/search", []QueryParam{{Name: "q", Value: "a b"}, {Name: "page", Value: "2"}})
	if got != "/search?page=2&q=a+b" {
		t.Fatalf("unexpected encoded path: %q", got)
	}
}

func TestWriteRequestLine(t *testing.T) {
	conn, server := newTestConn(t)
	done := make(chan []byte)
	go func() {
		buf := make([]byte, 4096)
		n, _ := server.Read(buf)
		done <- buf[:n]
	}()

	req := Request{
		Method:  "GET",
		Path:    "/widgets",
		Headers: []Header{{Name: "Host", Value: "example.com"}},
	}
	if err := WriteRequest(context.Background(), conn, req, time.Second); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	raw := <-done
	want := "GET /widgets HTTP/1.1\r\nHost: example.com\r\n\r\n"
	if string(raw) != want {
		t.Fatalf("expected %q, got %q", want, raw)
	}
}

func TestWriteRequestRejectsInvalidHeaderName(t *testing.T) {
	conn, _ := newTestConn(t)
	req := Request{
		Method:  "GET",
		Path:    "/",
		Headers: []Header{{Name: "Bad Name", Value: "x"}},
	}
	if err := WriteRequest(context.Background(), conn, req, time.Second); err == nil {
		t.Fatal("expected invalid header field name to be rejected")
	}
}

func TestWriteRequestRejectsInvalidHeaderValue(t *testing.T) {
	conn, _ := newTestConn(t)
	req := Request{
		Method:  "GET",
		Path:    "/",
		Headers: []Header{{Name: "X-Test", Value: "bad\r\nvalue"}},
	}
	if err := WriteRequest(context.Background(), conn, req, time.Second); err == nil {
		t.Fatal("expected invalid header field value to be rejected")
	}
}

func TestWriteRequestDrainsBody(t *testing.T) {
	conn, server := newTestConn(t)
	done := make(chan string)
	go func() {
		buf := make([]byte, 4096)
		total := ""
		for {
			n, err := server.Read(buf)
			total += string(buf[:n])
			if err != nil {
				break
			}
			if strings.Contains(total, "\r\n\r\nhello body") {
				break
			}
		}
		done <- total
	}()

	req := Request{
		Method: "POST",
		Path:   "/widgets",
		Body:   Streamed([]byte("hello body")),
	}
	if err := WriteRequest(context.Background(), conn, req, time.Second); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	conn.NetConn.Close()

	got := <-done
	if !strings.HasSuffix(got, "hello body") {
		t.Fatalf("expected body to be written, got %q", got)
	}
}

func TestStreamedEmptyYieldsEOFImmediately(t *testing.T) {
	s := Streamed(nil)
	_, err := s.Next(context.Background())
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestStreamedYieldsOnceThenEOF(t *testing.T) {
	s := Streamed([]byte("abc"))
	chunk, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(chunk) != "abc" {
		t.Fatalf("expected abc, got %q", chunk)
	}
	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF on second call, got %v", err)
	}
}
