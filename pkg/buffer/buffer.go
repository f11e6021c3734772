// Package buffer provides memory-efficient data storage with disk spilling,
// used to back the Buffered convenience helper that drains a BodyStream into
// a single in-memory-or-spilled payload.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/flowtap/rawhttp/pkg/errors"
)

// DefaultMemoryLimit is the memory threshold before spilling to disk.
const DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB

// Buffer accumulates bytes in memory and transparently spools to a
// temporary file once the configured threshold is crossed. Zero value is
// not usable; construct with New.
type Buffer struct {
	mu     sync.Mutex
	mem    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	closed bool
}

// New creates a Buffer that spills to disk above limit bytes. A
// non-positive limit selects DefaultMemoryLimit.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// Write stores p, spilling the accumulated payload to a temp file the
// first time the memory threshold would be exceeded.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errors.NewDataError("io", "buffer is closed", nil)
	}

	b.size += int64(len(p))

	if b.file == nil && int64(b.mem.Len()+len(p)) <= b.limit {
		return b.mem.Write(p)
	}

	if b.file == nil {
		if err := b.spillLocked(); err != nil {
			return 0, err
		}
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, errors.NewDataError("io", "writing to temp file", err)
	}
	return n, nil
}

// spillLocked moves the in-memory payload to a fresh temp file. Caller
// holds b.mu.
func (b *Buffer) spillLocked() error {
	tmp, err := os.CreateTemp("", "rawhttp-buffer-*.tmp")
	if err != nil {
		return errors.NewDataError("io", "creating temp file", err)
	}
	b.file = tmp
	b.path = tmp.Name()

	if b.mem.Len() > 0 {
		if _, err := tmp.Write(b.mem.Bytes()); err != nil {
			b.closeLocked()
			return errors.NewDataError("io", "writing to temp file", err)
		}
	}
	b.mem.Reset()
	return nil
}

// Bytes returns the in-memory payload. Once the payload has spilled to
// disk this returns nil; use Reader instead.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file != nil {
		return nil
	}
	return b.mem.Bytes()
}

// Path returns the filesystem path backing the spilled payload, or "" if
// the payload is still in memory.
func (b *Buffer) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Size returns the total number of bytes written.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled reports whether the payload has spilled to disk.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader provides a fresh reader over the stored payload, whether in
// memory or spilled.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.NewDataError("io", "buffer is closed", nil)
	}

	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, errors.NewDataError("io", "syncing temp file", err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, errors.NewDataError("io", "opening temp file for reading", err)
		}
		return f, nil
	}

	return io.NopCloser(bytes.NewReader(b.mem.Bytes())), nil
}

// Close releases the temp file, if any. Idempotent and safe for
// concurrent use.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Buffer) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
		err = removeErr
	}
	b.file = nil
	b.path = ""
	if err != nil {
		return errors.NewDataError("io", "closing temp file", err)
	}
	return nil
}
