package audio

import (
	"sync"
)

// RingBuffer is a bounded, thread-safe FIFO of audio bytes. It holds audio
// that arrives before the recognition stream is open. Writes past capacity
// are truncated so the oldest audio, which carries any container header,
// is never overwritten.
type RingBuffer struct {
	mu     sync.Mutex
	buffer []byte
	read   int
	length int
}

// NewRingBuffer creates a ring buffer that holds at most size bytes
func NewRingBuffer(size int) *RingBuffer {
	if size < 0 {
		size = 0
	}
	return &RingBuffer{buffer: make([]byte, size)}
}

// Write appends data to the buffer.
// Returns the number of bytes stored (less than len(data) once the buffer is full).
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.buffer)
	n := len(data)
	if free := size - rb.length; n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		rb.buffer[(rb.read+rb.length+i)%size] = data[i]
	}
	rb.length += n
	return n
}

func (rb *RingBuffer) readLocked(data []byte) int {
	n := len(data)
	if n > rb.length {
		n = rb.length
	}
	size := len(rb.buffer)
	for i := 0; i < n; i++ {
		data[i] = rb.buffer[(rb.read+i)%size]
	}
	if n > 0 {
		rb.read = (rb.read + n) % size
	}
	rb.length -= n
	if rb.length == 0 {
		rb.read = 0
	}
	return n
}

// Drain returns everything buffered as one contiguous slice and empties the buffer.
// It returns nil when nothing is buffered.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.length == 0 {
		return nil
	}
	out := make([]byte, rb.length)
	rb.readLocked(out)
	return out
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length
}

// Space returns the number of bytes that can still be written
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buffer) - rb.length
}

// Clear discards all buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.length = 0
}

// IsFull returns true if no more bytes can be written
func (rb *RingBuffer) IsFull() bool {
	return rb.Space() == 0
}
