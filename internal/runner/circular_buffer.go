package runner

import (
	"sync"
)

// DefaultOutputLimit caps the output kept from one run.
const DefaultOutputLimit = 64 * 1024

// CircularBuffer keeps the most recent bytes written to it so a program that
// prints without end cannot exhaust server memory.
type CircularBuffer struct {
	mu      sync.Mutex
	buf     []byte
	size    int
	head    int // write position
	full    bool
	written int64
}

// NewCircularBuffer creates a buffer holding at most size bytes.
func NewCircularBuffer(size int) *CircularBuffer {
	if size <= 0 {
		size = DefaultOutputLimit
	}
	return &CircularBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. Once full, the oldest bytes are overwritten.
func (cb *CircularBuffer) Write(p []byte) (int, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.written += int64(len(p))
	if len(p) >= cb.size {
		copy(cb.buf, p[len(p)-cb.size:])
		cb.head = 0
		cb.full = true
		return len(p), nil
	}

	n := copy(cb.buf[cb.head:], p)
	if n < len(p) {
		copy(cb.buf, p[n:])
		cb.full = true
	}
	next := (cb.head + len(p)) % cb.size
	if !cb.full && next <= cb.head && len(p) > 0 {
		cb.full = true
	}
	cb.head = next
	return len(p), nil
}

// String returns the retained bytes, oldest first.
func (cb *CircularBuffer) String() string {
	return string(cb.Bytes())
}

// Bytes returns a copy of the retained bytes, oldest first.
func (cb *CircularBuffer) Bytes() []byte {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.full {
		return append([]byte(nil), cb.buf[:cb.head]...)
	}
	out := make([]byte, 0, cb.size)
	out = append(out, cb.buf[cb.head:]...)
	return append(out, cb.buf[:cb.head]...)
}

// Len returns the number of retained bytes.
func (cb *CircularBuffer) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.full {
		return cb.size
	}
	return cb.head
}

// Truncated reports whether older output was dropped.
func (cb *CircularBuffer) Truncated() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.written > int64(cb.size)
}

// Capacity returns the maximum number of retained bytes.
func (cb *CircularBuffer) Capacity() int {
	return cb.size
}
