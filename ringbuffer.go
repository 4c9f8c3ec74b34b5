package main

import (
	"strings"
	"sync"
)

// RingBuffer keeps the most recent display chunks so a viewer that connects
// late can catch up on what the session has been showing.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []string
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer holding up to capacity chunks.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]string, capacity),
		capacity: capacity,
	}
}

// Write adds a chunk, dropping the oldest one when full.
func (rb *RingBuffer) Write(chunk string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = chunk
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns all chunks in chronological order.
func (rb *RingBuffer) ReadAll() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]string, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([]string, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}

// String returns the buffered chunks joined together.
func (rb *RingBuffer) String() string {
	return strings.Join(rb.ReadAll(), "")
}
