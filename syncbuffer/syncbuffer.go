// Package syncbuffer provides a bounded in-memory pipe: writers block while
// the buffer is full and readers block while it is empty.
//
// It stands in for a network body that arrives piece by piece, e.g. to feed
// an SSE stream to a client one event at a time.
package syncbuffer

import (
	"io"
	"sync"
)

// SyncBuffer is a thread-safe circular buffer.
type SyncBuffer struct {
	buf    []byte
	size   int
	rpos   int // read position
	wpos   int // write position
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
}

// New creates a new SyncBuffer that holds up to size bytes.
func New(size int) *SyncBuffer {
	// One slot always stays empty so that rpos == wpos means "empty".
	size++
	sb := &SyncBuffer{
		buf:  make([]byte, size),
		size: size,
	}
	sb.cond = sync.NewCond(&sb.mu)
	return sb
}

func (sb *SyncBuffer) Size() int {
	return sb.size - 1
}

func (sb *SyncBuffer) Used() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.used()
}

func (sb *SyncBuffer) Free() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.size - sb.used() - 1
}

func (sb *SyncBuffer) used() int {
	return (sb.wpos - sb.rpos + sb.size) % sb.size
}

// Write copies all of p into the buffer, blocking while it is full. It fails
// with io.ErrClosedPipe once the buffer is closed.
func (sb *SyncBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	written := 0
	for written < len(p) {
		if sb.closed {
			return written, io.ErrClosedPipe
		}
		free := sb.size - sb.used() - 1
		if free == 0 {
			sb.cond.Wait()
			continue
		}
		n := min(len(p)-written, free)
		for i := 0; i < n; i++ {
			sb.buf[(sb.wpos+i)%sb.size] = p[written+i]
		}
		sb.wpos = (sb.wpos + n) % sb.size
		written += n
		sb.cond.Broadcast()
	}
	return written, nil
}

// Read blocks until at least one byte is available and then returns as much
// as fits in p without waiting for more. After Close it drains what is left
// and then returns io.EOF.
func (sb *SyncBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for sb.used() == 0 {
		if sb.closed {
			return 0, io.EOF
		}
		sb.cond.Wait()
	}

	n := min(len(p), sb.used())
	for i := 0; i < n; i++ {
		p[i] = sb.buf[(sb.rpos+i)%sb.size]
	}
	sb.rpos = (sb.rpos + n) % sb.size
	sb.cond.Broadcast()
	return n, nil
}

// Close stops further writes. Buffered data can still be read.
func (sb *SyncBuffer) Close() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.closed = true
	sb.cond.Broadcast()
	return nil
}
