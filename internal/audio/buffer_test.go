package audio

import (
	"bytes"
	"testing"
)

func TestRingBuffer_WriteRead(t *testing.T) {
	rb := NewRingBuffer(10)

	data := []byte{1, 2, 3, 4, 5}
	if written := rb.Write(data); written != 5 {
		t.Errorf("Expected to write 5 bytes, got %d", written)
	}
	if rb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.Available())
	}

	out := make([]byte, 5)
	if read := rb.Read(out); read != 5 {
		t.Errorf("Expected to read 5 bytes, got %d", read)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Expected %v, got %v", data, out)
	}
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after draining")
	}
}

func TestRingBuffer_WriteOverflow(t *testing.T) {
	rb := NewRingBuffer(4)

	written := rb.Write([]byte{1, 2, 3, 4, 5, 6})
	if written != 4 {
		t.Errorf("Expected to write 4 bytes into a full buffer, got %d", written)
	}
	if rb.Space() != 0 {
		t.Errorf("Expected no space left, got %d", rb.Space())
	}

	if written := rb.Write([]byte{7}); written != 0 {
		t.Errorf("Expected write to full buffer to return 0, got %d", written)
	}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(8)

	rb.Write([]byte{1, 2, 3, 4, 5, 6})
	out := make([]byte, 4)
	rb.Read(out)

	// Write wraps past the end of the backing array.
	rb.Write([]byte{7, 8, 9, 10})

	rest := make([]byte, 6)
	n := rb.Read(rest)
	if n != 6 {
		t.Fatalf("Expected to read 6 bytes, got %d", n)
	}
	want := []byte{5, 6, 7, 8, 9, 10}
	if !bytes.Equal(rest[:n], want) {
		t.Errorf("Expected %v, got %v", want, rest[:n])
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Write([]byte{1, 2, 3})

	rb.Clear()
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after Clear")
	}
	if rb.Available() != 0 {
		t.Errorf("Expected available 0 after Clear, got %d", rb.Available())
	}

	out := make([]byte, 3)
	if read := rb.Read(out); read != 0 {
		t.Errorf("Expected read from cleared buffer to return 0, got %d", read)
	}
}
