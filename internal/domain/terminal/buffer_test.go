package terminal

import (
	"bytes"
	"strings"
	"testing"
)

func TestBufferPartialFill(t *testing.T) {
	b := NewBuffer(16)

	if got := b.Snapshot(); len(got) != 0 {
		t.Fatalf("empty buffer snapshot = %q", got)
	}

	b.Write([]byte("hello"))
	if got := b.Snapshot(); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("snapshot = %q, want %q", got, "hello")
	}
	if n := b.Len(); n != 5 {
		t.Fatalf("Len = %d, want 5", n)
	}
}

func TestBufferWrapKeepsMostRecent(t *testing.T) {
	b := NewBuffer(8)

	b.Write([]byte("abcdefgh"))
	b.Write([]byte("XY"))

	if got := b.Snapshot(); !bytes.Equal(got, []byte("cdefghXY")) {
		t.Fatalf("snapshot = %q, want %q", got, "cdefghXY")
	}
	if n := b.Len(); n != 8 {
		t.Fatalf("Len = %d, want 8", n)
	}
}

func TestBufferWriteLargerThanCapacity(t *testing.T) {
	b := NewBuffer(4)

	b.Write([]byte("0123456789"))
	if got := b.Snapshot(); !bytes.Equal(got, []byte("6789")) {
		t.Fatalf("snapshot = %q, want %q", got, "6789")
	}
}

func TestBufferSnapshotLeavesContents(t *testing.T) {
	b := NewBuffer(32)
	b.Write([]byte(strings.Repeat("x", 10)))

	first := b.Snapshot()
	second := b.Snapshot()
	if !bytes.Equal(first, second) {
		t.Fatalf("snapshots differ: %q vs %q", first, second)
	}

	// Mutating a snapshot must not leak into the buffer.
	first[0] = 'z'
	if got := b.Snapshot(); got[0] != 'x' {
		t.Fatalf("snapshot aliases buffer storage")
	}
}
