// Package port implements the port component: a named, fixed-
// unit-size mailbox owned by exactly one task. Any task may send;
// only the owner ever receives. Grounded on Go's own channel
// implementation (hchan), with the rendezvous fast path re-expressed
// as buffer first, then drain straight into a blocked receiver's slot,
// rather than Go's own bypass-the-buffer fast path.
package port

import (
	"sync"

	"taskrt/internal/msgbuf"
)

// Port is a FIFO mailbox. Its owning task never changes for the life
// of the Port; only the port's lock and ref count are touched by
// foreign (sending) goroutines.
type Port struct {
	ID          uint64
	OwnerTaskID uint64
	unitSize    int

	mu   sync.Mutex
	cond *sync.Cond
	buf  *msgbuf.Buffer
	refs int32 // owner implicitly holds one ref for as long as it hasn't detached
}

// New creates a Port of the given owner and fixed unit size. capacity
// <= 0 means an unbounded buffer, matching the original rust_port.
func New(id, ownerTaskID uint64, unitSize, capacity int) *Port {
	p := &Port{
		ID:          id,
		OwnerTaskID: ownerTaskID,
		unitSize:    unitSize,
		buf:         msgbuf.New(unitSize, capacity),
		refs:        1,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// UnitSize returns the fixed message size this port accepts.
func (p *Port) UnitSize() int { return p.unitSize }

// Ref increments the port's reference count. Pairs with Deref.
func (p *Port) Ref() {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
}

// Deref decrements the reference count and reports the count after the
// decrement, so callers waiting to detach can observe refs==1 (no
// outstanding foreign senders) without a separate locked read.
func (p *Port) Deref() int32 {
	p.mu.Lock()
	p.refs--
	n := p.refs
	p.cond.Broadcast()
	p.mu.Unlock()
	return n
}

// Refs returns the current reference count.
func (p *Port) Refs() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// WaitForSoleRef blocks until the owner's is the only outstanding
// reference (refs == 1), i.e. every foreign sender that had taken a
// reference has since Deref'd it. This replaces a busy-wait spin on
// refcount with a condition-variable wait.
func (p *Port) WaitForSoleRef() {
	p.mu.Lock()
	for p.refs > 1 {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// Enqueue appends data (exactly UnitSize bytes) to the port's buffer,
// unconditionally (the port's buffer is unbounded by default; a bounded
// port reports false if full, matching msgbuf.Buffer.Push).
func (p *Port) Enqueue(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Push(data)
}

// DequeueInto pops the oldest buffered message into dst and reports
// whether one was available.
func (p *Port) DequeueInto(dst []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Pop(dst)
}

// Empty reports whether the port's buffer currently holds no message.
func (p *Port) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.buf.Peek()
}

// Len reports the number of currently buffered messages.
func (p *Port) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// Lock/Unlock expose the port's own lock directly to portselect, which
// holds the lock of every port it has scanned so far (taken one by one
// from a randomized start index) while deciding whether to block.
func (p *Port) Lock()   { p.mu.Lock() }
func (p *Port) Unlock() { p.mu.Unlock() }

// PeekLocked reports whether the buffer is non-empty. Caller must hold
// the port's lock (via Lock); used by portselect's locked scan.
func (p *Port) PeekLocked() bool { return p.buf.Peek() }

// DequeueIntoLocked is DequeueInto for a caller that already holds the
// port's lock.
func (p *Port) DequeueIntoLocked(dst []byte) bool { return p.buf.Pop(dst) }

// EnqueueLocked is Enqueue for a caller that already holds the port's
// lock. Used by the send path so the buffer push and the subsequent
// check of whether the owner is blocked on this exact port happen as
// one atomic step, closing the race a separately-locked pair of calls
// would leave open.
func (p *Port) EnqueueLocked(data []byte) bool { return p.buf.Push(data) }
