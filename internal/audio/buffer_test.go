package audio

import (
	"bytes"
	"testing"
)

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(10)

	written := rb.Write([]byte{1, 2, 3, 4, 5})
	if written != 5 {
		t.Errorf("Expected to write 5 bytes, got %d", written)
	}
	if rb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.Available())
	}

	written = rb.Write([]byte{6, 7, 8})
	if written != 3 {
		t.Errorf("Expected to write 3 bytes, got %d", written)
	}
	if rb.Space() != 2 {
		t.Errorf("Expected space 2, got %d", rb.Space())
	}
}

func TestRingBuffer_WriteOverflowKeepsOldest(t *testing.T) {
	rb := NewRingBuffer(4)

	if written := rb.Write([]byte{1, 2, 3}); written != 3 {
		t.Fatalf("Expected to write 3 bytes, got %d", written)
	}
	if written := rb.Write([]byte{4, 5, 6}); written != 1 {
		t.Errorf("Expected to write 1 byte into remaining space, got %d", written)
	}
	if !rb.IsFull() {
		t.Error("Expected buffer to be full")
	}
	if written := rb.Write([]byte{7}); written != 0 {
		t.Errorf("Expected full buffer to reject writes, got %d", written)
	}
	if got := rb.Drain(); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Expected oldest bytes to survive, got %v", got)
	}
}

func TestRingBuffer_DrainEmpty(t *testing.T) {
	rb := NewRingBuffer(10)

	if rb.Available() != 0 {
		t.Error("Expected buffer to be empty initially")
	}
	if rb.Drain() != nil {
		t.Error("Expected Drain on empty buffer to return nil")
	}
}

func TestRingBuffer_WriteAfterDrain(t *testing.T) {
	rb := NewRingBuffer(5)
	rb.Write([]byte{1, 2, 3, 4})
	if got := rb.Drain(); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("Expected [1 2 3 4], got %v", got)
	}

	if written := rb.Write([]byte{5, 6, 7, 8, 9}); written != 5 {
		t.Fatalf("Expected drained buffer to take 5 bytes, got %d", written)
	}
	if got := rb.Drain(); !bytes.Equal(got, []byte{5, 6, 7, 8, 9}) {
		t.Errorf("Expected [5 6 7 8 9], got %v", got)
	}
	if rb.Available() != 0 {
		t.Error("Expected buffer to be empty after drain")
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Write([]byte{1, 2, 3, 4, 5})

	rb.Clear()
	if rb.Available() != 0 {
		t.Errorf("Expected available 0 after clear, got %d", rb.Available())
	}
	if rb.Space() != 10 {
		t.Errorf("Expected space 10 after clear, got %d", rb.Space())
	}
}

func TestRingBuffer_ZeroCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	if written := rb.Write([]byte{1}); written != 0 {
		t.Errorf("Expected zero-capacity buffer to store nothing, got %d", written)
	}
	if !rb.IsFull() || rb.Available() != 0 {
		t.Error("Expected zero-capacity buffer to be full and empty")
	}
}
