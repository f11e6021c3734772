package netio

import (
	"context"
	"net"
	"testing"
	"time"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestDialConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	conn, err := Dial(context.Background(), "tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
}

func TestDialRefusedIsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Dial(context.Background(), "tcp", addr, time.Second); err == nil {
		t.Fatal("expected dial to a closed port to fail")
	}
}

func TestWritePartialLoop(t *testing.T) {
	client, server := pipePair(t)

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	received := make([]byte, 0, len(payload))
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for len(received) < len(payload) {
			n, err := server.Read(buf)
			received = append(received, buf[:n]...)
			if err != nil {
				return
			}
		}
	}()

	n, err := Write(context.Background(), client, payload, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes written, got %d", len(payload), n)
	}
	client.Close()
	<-done

	if len(received) != len(payload) {
		t.Fatalf("expected %d bytes received, got %d", len(payload), len(received))
	}
}

func TestReadReturnsOneChunk(t *testing.T) {
	client, server := pipePair(t)

	go func() {
		server.Write([]byte("hello"))
	}()

	buf := make([]byte, 16)
	n, err := Read(context.Background(), client, buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf[:n])
	}
}

func TestReadCancellationUnblocks(t *testing.T) {
	client, _ := pipePair(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	buf := make([]byte, 16)
	start := time.Now()
	_, err := Read(ctx, client, buf, 0)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected cancellation to unblock Read with an error")
	}
	if elapsed > time.Second {
		t.Fatalf("Read took too long to unblock after cancellation: %v", elapsed)
	}
}

func TestReadDeadlineTimesOut(t *testing.T) {
	client, _ := pipePair(t)

	buf := make([]byte, 16)
	_, err := Read(context.Background(), client, buf, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected deadline to fire")
	}
	nerr, ok := err.(net.Error)
	if !ok || !nerr.Timeout() {
		t.Fatalf("expected a timeout net.Error, got %v", err)
	}
}

func TestShutdownClosesConnection(t *testing.T) {
	client, server := pipePair(t)

	if err := Shutdown(client); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := server.Read(buf); err == nil {
		t.Fatal("expected peer to observe closure")
	}
}
