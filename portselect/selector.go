// Package portselect implements the multi-port select coordinator:
// block a task until any one of several owned ports becomes
// non-empty. Grounded on Go's own selectgo (randomized poll order,
// lock-then-scan-then-unlock), reimplementing the msg_sent_on
// rendezvous protocol of a native port-based cooperative runtime.
package portselect

import (
	"sync"

	"taskrt/internal/prng"
	"taskrt/port"
	"taskrt/task"
)

// Selector is the ephemeral per-task state that exists only while its
// owning task is blocked in Select. At most one Selector is ever active
// for a given task at a time.
type Selector struct {
	owner *task.Task
	rnd   *prng.Source

	mu    sync.Mutex // the rendezvous lock: serializes competing MsgSentOn calls
	ports []*port.Port
}

// New creates a Selector bound to owner. A fresh Selector is cheap
// enough to allocate per Select call; callers may also keep one per
// task and reuse it across calls.
func New(owner *task.Task) *Selector {
	return &Selector{owner: owner, rnd: prng.New()}
}

// Select blocks owner until one of ports has a message buffered, or
// owner is killed while waiting. It returns the ready port (nil if
// killed before one was ready) and whether the caller yielded (blocked)
// at all. On a non-blocking resolution, the returned port's buffer is
// guaranteed non-empty at the moment its lock was released.
//
// The caller still has to issue the actual receive on the returned
// port; Select only identifies which one is ready, mirroring the
// original's rationale that the message itself is drained by a
// subsequent, ordinary receive.
func (s *Selector) Select(ports []*port.Port, killedOut *bool) (chosen *port.Port, yielded bool) {
	if len(ports) == 0 {
		panic("portselect: select on zero ports")
	}

	j := s.rnd.Intn(len(ports))
	locked := make([]*port.Port, 0, len(ports))
	var found *port.Port

	for i := 0; i < len(ports); i++ {
		k := (i + j) % len(ports)
		p := ports[k]
		p.Lock()
		locked = append(locked, p)
		if p.PeekLocked() {
			found = p
			break
		}
	}

	blocked := false
	if found == nil {
		s.mu.Lock()
		s.ports = ports
		s.mu.Unlock()
		s.owner.SetSelectResult(nil)

		// TryBlock must run while every candidate port's lock is still
		// held (the locked loop above hasn't unlocked anything yet), so
		// the task is discoverable via BlockedOn before any sender that
		// lost the lock race above can reach MsgSentOn.
		blocked = s.owner.TryBlock(task.WaitSelect, s, "waiting for select rendezvous")
		if !blocked {
			*killedOut = true
			s.mu.Lock()
			s.ports = nil
			s.mu.Unlock()
		}
	}

	for _, p := range locked {
		p.Unlock()
	}

	if found == nil && blocked {
		s.owner.Suspend(killedOut)
		yielded = true
		if *killedOut {
			s.mu.Lock()
			s.ports = nil
			s.mu.Unlock()
		} else {
			found = s.owner.SelectResult()
		}
	}

	return found, yielded
}

// MsgSentOn is called by a sender (from any goroutine) after it has
// appended a message to port p's buffer, to check whether p's owner is
// currently parked in this exact Select call and, if so, wake it. Only
// one sender ever wins a given selector resolution: the rendezvous lock
// (s.mu) serializes competing calls, matching
// rust_port_selector.cpp::msg_sent_on.
func (s *Selector) MsgSentOn(p *port.Port) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owner.BlockedOn(s) {
		return
	}
	found := false
	for _, cand := range s.ports {
		if cand == p {
			found = true
			break
		}
	}
	if !found {
		return
	}

	s.ports = nil
	s.owner.SetSelectResult(p)
	s.owner.Wakeup(s) // acquires the task lock while holding s.mu, by design
}
