// itserial/ringbuffer.go

package itserial

import "sync/atomic"

// RingBuffer is a fixed-capacity single-producer/single-consumer byte queue.
//
// head is written only by the producer and tail only by the consumer; each side
// merely reads the other's index. One slot is kept free so that head == tail
// always means empty, which limits the queue to Size()-1 bytes.
type RingBuffer struct {
	buf  []byte
	head atomic.Uint32 // next slot to write
	tail atomic.Uint32 // next slot to read
}

// NewRingBuffer returns a ring with n slots (n-1 usable). n below 2 is raised to 2.
func NewRingBuffer(n int) *RingBuffer {
	if n < 2 {
		n = 2
	}
	return &RingBuffer{buf: make([]byte, n)}
}

// Size returns the number of slots in the buffer.
func (rb *RingBuffer) Size() int { return len(rb.buf) }

// Used returns how many bytes are queued.
func (rb *RingBuffer) Used() int {
	n := uint32(len(rb.buf))
	return int((rb.head.Load() + n - rb.tail.Load()) % n)
}

// Free returns how many more bytes Put will accept.
func (rb *RingBuffer) Free() int { return len(rb.buf) - 1 - rb.Used() }

// Put stores a byte in the buffer. If the buffer is already full, it returns false
// and the byte is dropped.
func (rb *RingBuffer) Put(val byte) bool {
	h := rb.head.Load()
	next := (h + 1) % uint32(len(rb.buf))
	if next == rb.tail.Load() { // full
		return false
	}
	rb.buf[h] = val     // 1) write data
	rb.head.Store(next) // 2) publish
	return true
}

// Get returns the oldest byte from the buffer. If the buffer is empty, it returns (0, false).
func (rb *RingBuffer) Get() (byte, bool) {
	t := rb.tail.Load()
	if t == rb.head.Load() {
		return 0, false
	}
	v := rb.buf[t]                               // 1) read current element
	rb.tail.Store((t + 1) % uint32(len(rb.buf))) // 2) publish consumption
	return v, true
}

// Peek returns the oldest byte without consuming it. Like Get, it must only be
// called by the consumer.
func (rb *RingBuffer) Peek() (byte, bool) {
	t := rb.tail.Load()
	if t == rb.head.Load() {
		return 0, false
	}
	return rb.buf[t], true
}

// Clear resets the head and tail indices to zero. It touches both indices, so the
// other context must not be pushing or popping concurrently.
func (rb *RingBuffer) Clear() {
	rb.head.Store(0)
	rb.tail.Store(0)
}
