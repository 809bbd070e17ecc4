package scheduler

import (
	"sync"

	"github.com/vzahanych/engagement-edge/internal/landmarks"
)

// Buffer is a bounded FIFO of frames. Pushing into a full buffer evicts the oldest frame.
type Buffer struct {
	mu     sync.Mutex
	frames []landmarks.Frame
	head   int // index of the oldest frame
	size   int
}

// NewBuffer creates a buffer holding at most capacity frames
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{frames: make([]landmarks.Frame, capacity)}
}

// Push appends a frame
func (b *Buffer) Push(frame landmarks.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.frames)
	if b.size < capacity {
		b.frames[(b.head+b.size)%capacity] = frame
		b.size++
		return
	}
	b.frames[b.head] = frame
	b.head = (b.head + 1) % capacity
}

// Snapshot copies the latest n frames, oldest first
func (b *Buffer) Snapshot(n int) []landmarks.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(n)
}

func (b *Buffer) snapshotLocked(n int) []landmarks.Frame {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]landmarks.Frame, n)
	capacity := len(b.frames)
	first := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.frames[(first+i)%capacity]
	}
	return out
}

// Len returns the number of buffered frames
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity
func (b *Buffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// SetCapacity resizes the buffer, keeping the latest frames that still fit
func (b *Buffer) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if capacity == len(b.frames) {
		return
	}
	kept := b.snapshotLocked(capacity)
	b.frames = make([]landmarks.Frame, capacity)
	copy(b.frames, kept)
	b.head = 0
	b.size = len(kept)
}

// Clear drops every frame
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.frames {
		b.frames[i] = nil
	}
	b.head = 0
	b.size = 0
}
