// Package msgbuf implements the message buffer component: a FIFO of
// fixed-size message slots, optionally capacity-bounded, backed by a
// slab.FixAlloc so steady-state traffic reuses slots instead of
// allocating. It underlies port.Port's inbound queue.
package msgbuf

import "taskrt/internal/slab"

// Buffer is a FIFO queue of fixed unitSize byte slots. A zero-value
// capacity means unbounded (the default for ports, matching the
// original rust_port's unbounded channel buffer).
type Buffer struct {
	unitSize int
	capacity int // 0 == unbounded
	alloc    *slab.FixAlloc
	q        [][]byte
}

// New creates a Buffer of slots exactly unitSize bytes long. capacity
// <= 0 means unbounded.
func New(unitSize, capacity int) *Buffer {
	return &Buffer{
		unitSize: unitSize,
		capacity: capacity,
		alloc:    slab.New(unitSize),
	}
}

// UnitSize returns the fixed slot size.
func (b *Buffer) UnitSize() int { return b.unitSize }

// Len returns the number of currently buffered messages.
func (b *Buffer) Len() int { return len(b.q) }

// Full reports whether the buffer has reached its bound. Always false
// for an unbounded buffer.
func (b *Buffer) Full() bool {
	return b.capacity > 0 && len(b.q) >= b.capacity
}

// Push copies src (exactly UnitSize bytes) into a fresh slot and
// appends it to the FIFO. Returns false without mutating the buffer if
// the buffer is at capacity.
func (b *Buffer) Push(src []byte) bool {
	if len(src) != b.unitSize {
		panic("msgbuf: message size mismatch")
	}
	if b.Full() {
		return false
	}
	slot := b.alloc.Alloc()
	copy(slot, src)
	b.q = append(b.q, slot)
	return true
}

// Pop dequeues the oldest message into dst (exactly UnitSize bytes) and
// returns true, or returns false if the buffer is empty.
func (b *Buffer) Pop(dst []byte) bool {
	if len(b.q) == 0 {
		return false
	}
	if len(dst) != b.unitSize {
		panic("msgbuf: destination size mismatch")
	}
	slot := b.q[0]
	copy(dst, slot)
	b.q = b.q[1:]
	b.alloc.Free(slot)
	return true
}

// Peek reports whether the buffer is non-empty, without dequeuing.
func (b *Buffer) Peek() bool { return len(b.q) > 0 }
