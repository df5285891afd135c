package audio

import (
	"errors"
	"sync"
)

// ErrInvalidCapacity is returned when a ring buffer size is not a power of two
var ErrInvalidCapacity = errors.New("ring buffer capacity must be a positive power of two")

// RingBuffer is a fixed-capacity circular buffer of mono samples shared
// between the streaming goroutine (producer) and the analyzer (consumer).
//
// Design:
// - Capacity is a power of two so positions wrap with a mask
// - Write never blocks: when full, the oldest samples are overwritten and
//   the read position is pushed forward
// - ReadWindow copies a window and advances by a caller-chosen hop, which
//   lets consecutive windows overlap
// - The buffer has its own mutex, independent of any engine lock
type RingBuffer struct {
	mu sync.Mutex

	samples  []float32
	mask     int
	readPos  int
	writePos int
	count    int

	overwritten uint64
}

// NewRingBuffer allocates a ring buffer. The buffer is never resized.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, ErrInvalidCapacity
	}
	return &RingBuffer{
		samples: make([]float32, capacity),
		mask:    capacity - 1,
	}, nil
}

// Write appends samples, overwriting the oldest data when full.
func (b *RingBuffer) Write(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.samples)

	// Only the newest capacity samples can survive
	if len(samples) > capacity {
		skipped := len(samples) - capacity
		b.overwritten += uint64(skipped)
		samples = samples[skipped:]
	}

	for _, s := range samples {
		b.samples[b.writePos] = s
		b.writePos = (b.writePos + 1) & b.mask
	}

	b.count += len(samples)
	if b.count > capacity {
		dropped := b.count - capacity
		b.overwritten += uint64(dropped)
		b.readPos = (b.readPos + dropped) & b.mask
		b.count = capacity
	}
}

// ReadWindow copies len(dst) samples starting at the read position and then
// advances the read position by hop. It returns false, leaving the buffer
// untouched, when fewer than len(dst) samples are available.
func (b *RingBuffer) ReadWindow(dst []float32, hop int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(dst) == 0 || b.count < len(dst) {
		return false
	}

	pos := b.readPos
	for i := range dst {
		dst[i] = b.samples[pos]
		pos = (pos + 1) & b.mask
	}

	if hop > b.count {
		hop = b.count
	}
	if hop < 0 {
		hop = 0
	}
	b.readPos = (b.readPos + hop) & b.mask
	b.count -= hop
	return true
}

// Available returns the number of unread samples.
func (b *RingBuffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the fixed buffer size.
func (b *RingBuffer) Capacity() int {
	return len(b.samples)
}

// Overwritten returns how many samples were discarded unread.
func (b *RingBuffer) Overwritten() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overwritten
}

// Reset empties the buffer, for example after a seek.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readPos = 0
	b.writePos = 0
	b.count = 0
}
