package audio

import (
	"errors"
	"sync"
	"testing"
)

func TestNewRingBuffer_RejectsNonPowerOfTwo(t *testing.T) {
	for _, capacity := range []int{0, -8, 3, 1000, 16383} {
		if _, err := NewRingBuffer(capacity); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("NewRingBuffer(%d) error = %v, want ErrInvalidCapacity", capacity, err)
		}
	}
	for _, capacity := range []int{1, 2, 1024, 16384} {
		if _, err := NewRingBuffer(capacity); err != nil {
			t.Errorf("NewRingBuffer(%d) failed: %v", capacity, err)
		}
	}
}

func TestRingBuffer_WriteRead(t *testing.T) {
	buf, _ := NewRingBuffer(8)
	buf.Write([]float32{1, 2, 3, 4, 5})

	if got := buf.Available(); got != 5 {
		t.Fatalf("Available = %d, want 5", got)
	}

	dst := make([]float32, 4)
	if !buf.ReadWindow(dst, 4) {
		t.Fatal("ReadWindow returned false with enough data")
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if dst[i] != want {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want)
		}
	}
	if got := buf.Available(); got != 1 {
		t.Errorf("Available after read = %d, want 1", got)
	}
}

// TestRingBuffer_OverlappingWindows verifies that a hop of half the window
// makes the next window start in the middle of the previous one.
func TestRingBuffer_OverlappingWindows(t *testing.T) {
	buf, _ := NewRingBuffer(16)
	buf.Write([]float32{0, 1, 2, 3, 4, 5, 6, 7})

	dst := make([]float32, 4)
	starts := []float32{0, 2, 4}
	for _, want := range starts {
		if !buf.ReadWindow(dst, 2) {
			t.Fatalf("ReadWindow returned false, expected window starting at %v", want)
		}
		if dst[0] != want {
			t.Errorf("window starts at %v, want %v", dst[0], want)
		}
	}

	// Only 2 samples remain, less than a window
	if buf.ReadWindow(dst, 2) {
		t.Error("ReadWindow succeeded with fewer samples than the window")
	}
	if got := buf.Available(); got != 2 {
		t.Errorf("failed ReadWindow consumed data: Available = %d, want 2", got)
	}
}

// TestRingBuffer_OverwritesOldest makes sure a full buffer keeps the newest
// samples and never blocks the producer.
func TestRingBuffer_OverwritesOldest(t *testing.T) {
	buf, _ := NewRingBuffer(4)
	buf.Write([]float32{1, 2, 3})
	buf.Write([]float32{4, 5, 6})

	if got := buf.Available(); got != 4 {
		t.Fatalf("Available = %d, want capacity 4", got)
	}
	if got := buf.Overwritten(); got != 2 {
		t.Errorf("Overwritten = %d, want 2", got)
	}

	dst := make([]float32, 4)
	buf.ReadWindow(dst, 4)
	for i, want := range []float32{3, 4, 5, 6} {
		if dst[i] != want {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want)
		}
	}
}

func TestRingBuffer_WriteLargerThanCapacity(t *testing.T) {
	buf, _ := NewRingBuffer(4)
	buf.Write([]float32{9})
	buf.Write([]float32{1, 2, 3, 4, 5, 6, 7})

	dst := make([]float32, 4)
	if !buf.ReadWindow(dst, 4) {
		t.Fatal("ReadWindow returned false on a full buffer")
	}
	for i, want := range []float32{4, 5, 6, 7} {
		if dst[i] != want {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want)
		}
	}
	if got := buf.Overwritten(); got != 4 {
		t.Errorf("Overwritten = %d, want 4", got)
	}
}

func TestRingBuffer_Reset(t *testing.T) {
	buf, _ := NewRingBuffer(8)
	buf.Write([]float32{1, 2, 3})
	buf.Reset()

	if got := buf.Available(); got != 0 {
		t.Errorf("Available after Reset = %d, want 0", got)
	}
	if got := buf.Capacity(); got != 8 {
		t.Errorf("Capacity after Reset = %d, want 8", got)
	}
}

// TestRingBuffer_ConcurrentAccess runs a producer and a consumer together.
// Run with -race to catch unsynchronised access.
func TestRingBuffer_ConcurrentAccess(t *testing.T) {
	buf, _ := NewRingBuffer(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		chunk := make([]float32, 100)
		for i := 0; i < 500; i++ {
			buf.Write(chunk)
		}
	}()

	go func() {
		defer wg.Done()
		dst := make([]float32, 256)
		for i := 0; i < 500; i++ {
			buf.ReadWindow(dst, 128)
		}
	}()

	wg.Wait()

	if got := buf.Available(); got < 0 || got > buf.Capacity() {
		t.Errorf("Available = %d, outside [0, %d]", got, buf.Capacity())
	}
}
