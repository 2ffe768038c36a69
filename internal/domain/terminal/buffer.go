package terminal

import "sync"

// Buffer is a thread-safe circular buffer holding the most recent terminal
// output. Once full, the oldest bytes are overwritten.
type Buffer struct {
	data []byte
	size int
	head int
	tail int
	full bool
	mu   sync.RWMutex
}

// NewBuffer creates a circular buffer of the given capacity.
func NewBuffer(size int) *Buffer {
	return &Buffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends data, overwriting the oldest bytes when the buffer is full.
func (b *Buffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.data[b.tail] = c
		b.tail = (b.tail + 1) % b.size

		if b.full {
			b.head = b.tail
		} else if b.tail == b.head {
			b.full = true
		}
	}

	return len(p), nil
}

// Snapshot returns a copy of the buffered bytes in write order. The buffer
// is left intact so every newly attached socket can replay the same window.
func (b *Buffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.head == b.tail && !b.full {
		return []byte{}
	}

	if b.full {
		result := make([]byte, b.size)
		n := copy(result, b.data[b.head:])
		copy(result[n:], b.data[:b.tail])
		return result
	}

	result := make([]byte, b.tail-b.head)
	copy(result, b.data[b.head:b.tail])
	return result
}

// Len reports how many bytes are currently buffered.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.full {
		return b.size
	}
	return b.tail - b.head
}
