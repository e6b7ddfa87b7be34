package audio

import "sync"

// RingBuffer is a thread-safe byte ring buffer. The playback writer sink
// stages PCM bytes here so the scheduler never blocks on the output device.
type RingBuffer struct {
	mu     sync.Mutex
	buffer []byte
	size   int
	read   int
	write  int
	count  int
}

// NewRingBuffer creates a ring buffer holding up to size bytes.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write copies data into the buffer, returning the number of bytes written.
// Writes never block; excess bytes are rejected when the buffer is full.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := rb.size - rb.count
	n := len(data)
	if n > free {
		n = free
	}

	first := copy(rb.buffer[rb.write:], data[:n])
	copy(rb.buffer, data[first:n])
	rb.write = (rb.write + n) % rb.size
	rb.count += n
	return n
}

// Read copies up to len(data) bytes out of the buffer and returns the count.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if n > rb.count {
		n = rb.count
	}

	first := copy(data[:n], rb.buffer[rb.read:])
	copy(data[first:n], rb.buffer)
	rb.read = (rb.read + n) % rb.size
	rb.count -= n
	return n
}

// Available returns the number of bytes ready to read.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Space returns the number of bytes that can be written without loss.
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// Clear drops all buffered bytes. Called on playback interruption.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
	rb.count = 0
}

// IsEmpty reports whether the buffer holds no bytes.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count == 0
}
