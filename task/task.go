// Package task implements the runtime's task state machine: an
// execution unit with its own stack, a four-state lifecycle, a
// reference count, a rendezvous slot, and a supervision link. A Task is
// mutated only by its owning task-thread, except for the ref count,
// killed-flag, and rendezvous slot, which may be touched by foreign
// senders under the task's own lock.
package task

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"taskrt/activation"
	"taskrt/internal/rtlog"
	"taskrt/port"
)

// State is one of the four positions in the task lifecycle.
type State int32

const (
	Newborn State = iota
	Running
	Blocked
	Dead
)

func (s State) String() string {
	switch s {
	case Newborn:
		return "newborn"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Dead:
		return "dead"
	default:
		return "invalid"
	}
}

// WaitKind tags what a blocked task is waiting on, replacing a deep
// "cond-like" class hierarchy with one tagged variant.
type WaitKind int

const (
	WaitNone WaitKind = iota
	WaitPort
	WaitSelect
	WaitJoin
	WaitSleep
)

// WaitReason names the condition a BLOCKED task is parked on. Cond is
// an opaque identity (typically *port.Port or *portselect.Selector)
// compared for equality by Wakeup to catch mismatched wakeups.
type WaitReason struct {
	Kind  WaitKind
	Cond  any
	Label string
}

// Owner is implemented by the task's owning task-thread. It is the only
// cross-goroutine surface a Task exposes. CommitBlock is called by the
// task's own goroutine, synchronously, the instant it decides to block
// (while it may still hold an external lock such as a port's), so the
// task is administratively placed on its owner's blocked list before
// any sender can possibly observe BlockedOn returning true. Requeue is
// called by a foreign sender (or Kill) to move a blocked task back onto
// its owner's running list and wake that task-thread if it was
// idle-waiting.
type Owner interface {
	CommitBlock(t *Task)
	Requeue(t *Task)
}

// Task is one cooperatively scheduled execution unit.
type Task struct {
	ID      uint64
	Name    string
	SchedID uint64 // immutable after construction; which scheduler placed this task

	owner Owner
	entry func(*Task)
	log   *rtlog.Logger

	Stack activation.StackSegment
	ctx   *activation.Context // lazily claimed from the owning task-thread's pool; see Claim

	launched bool // true once the task's goroutine has been started

	mu            sync.Mutex
	state         State
	waitReason    WaitReason
	rendezvousDst []byte
	refCount      int32
	killed        bool
	hasSupervisor bool
	supervisorID  uint64
	exitErr       error

	portsMu sync.Mutex
	ports   map[uint64]*port.Port

	selectResult *port.Port
}

// New constructs a NEWBORN task. entry is run on the task's own
// goroutine once Start (via the owning task-thread) activates it.
func New(id uint64, name string, schedID uint64, owner Owner, entry func(*Task), stackSize uint64, log *rtlog.Logger) *Task {
	return &Task{
		ID:            id,
		Name:          name,
		SchedID:       schedID,
		owner:         owner,
		entry:         entry,
		log:           log,
		Stack:         activation.StackSegment{Size: stackSize},
		state:         Newborn,
		refCount:      1, // the creator's reference
		hasSupervisor: false,
		ports:         make(map[uint64]*port.Port),
	}
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// markRunning transitions NEWBORN (or a wakeup target) into RUNNING.
// Called only by the owning task-thread.
func (t *Task) markRunning() {
	t.mu.Lock()
	t.state = Running
	t.mu.Unlock()
}

// Launched reports whether the task's goroutine has ever been started.
func (t *Task) Launched() bool { return t.launched }

// MarkLaunched records that the task-thread loop is about to perform
// the task's first activation.
func (t *Task) MarkLaunched() { t.launched = true }

// Start is called by the owning task-thread when moving the task from
// newborn to running (the NEWBORN -> RUNNING transition). The
// task isn't actually resumed here; the scheduler loop's next pick does
// that via Activate.
func (t *Task) Start() { t.markRunning() }

// Claim lends the task an activation context from pool if it doesn't
// already carry one. Called once by the owning task-thread, just
// before the task's first Activate; a no-op on every later activation,
// since a task keeps the same context for its whole life once claimed.
func (t *Task) Claim(pool *activation.Pool) {
	if t.ctx != nil {
		return
	}
	ctx, reused := pool.Get()
	t.ctx = ctx
	t.Stack.Pooled = reused
}

// Release returns the task's activation context to pool once the task
// has reached DEAD, so the next task claiming from the same pool can
// recycle the channel pair instead of allocating a fresh one. A task
// that merely yielded or blocked keeps its context: it's parked for a
// future resume, not released.
func (t *Task) Release(pool *activation.Pool) {
	if t.ctx == nil || !t.ctx.Done() {
		return
	}
	pool.Put(t.ctx)
	t.ctx = nil
}

// SupervisorID returns the supervising task's id, if any.
func (t *Task) SupervisorID() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supervisorID, t.hasSupervisor
}

// SetSupervisor records the spawning task as this task's supervisor.
// Called once, at spawn time, before the task is reachable by anyone
// else.
func (t *Task) SetSupervisor(id uint64) {
	t.mu.Lock()
	t.supervisorID = id
	t.hasSupervisor = true
	t.mu.Unlock()
}

// Unsupervise permanently breaks the supervision link: this task's
// eventual fatal failure will no longer propagate to its parent.
func (t *Task) Unsupervise() {
	t.mu.Lock()
	t.hasSupervisor = false
	t.mu.Unlock()
}

// ExitErr returns the task-fatal cause recorded when the task died, if
// any.
func (t *Task) ExitErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

// Ref increments the task's reference count. Pairs with Deref. Safe
// from any goroutine.
func (t *Task) Ref() int32 {
	t.mu.Lock()
	t.refCount++
	n := t.refCount
	t.mu.Unlock()
	return n
}

// Deref decrements the reference count and returns the count after the
// decrement. When it reaches zero the owning task-thread may destroy
// the task.
func (t *Task) Deref() int32 {
	t.mu.Lock()
	t.refCount--
	n := t.refCount
	t.mu.Unlock()
	return n
}

// Kill sets the killed flag and, if the task is currently BLOCKED,
// forces an immediate wakeup so it observes the flag at its next yield
// point (the "any non-DEAD -> RUNNING (on kill)" transition).
// A NEWBORN task is simply flagged; it observes the kill the first time
// it's started and reaches a Yield/TryBlock call.
func (t *Task) Kill() {
	t.mu.Lock()
	t.killed = true
	wasBlocked := t.state == Blocked
	if wasBlocked {
		t.state = Running
		t.waitReason = WaitReason{}
	}
	t.mu.Unlock()
	if wasBlocked {
		t.owner.Requeue(t)
	}
}

// Killed reports whether the task has been killed.
func (t *Task) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// Yield is the sole unconditional suspension point callable from task
// code. If the task has been killed it returns immediately with
// *killedOut set to true and the task still RUNNING, so the caller can
// unwind on its own stack; otherwise it performs an unconditional
// context switch back to the owning task-thread.
func (t *Task) Yield(killedOut *bool) {
	if t.Killed() {
		*killedOut = true
		return
	}
	t.ctx.Yield()
}

// TryBlock transitions RUNNING -> BLOCKED on the given condition and
// registers the task on its owner's blocked list, but does not yet
// suspend. Callers that must hold an external lock (a port's, or every
// candidate port's for a select) call TryBlock while still holding it,
// then release the lock, then call Suspend — mirroring the channel
// park-commit discipline this runtime's host language uses internally:
// a blocked task must be discoverable by BlockedOn before any lock that
// gated the check-then-block decision is released, otherwise a sender
// can race between the empty check and the task actually registering
// as blocked and its wakeup would have nothing to find.
//
// TryBlock returns false without changing any state if the task was
// already killed; the caller must then skip Suspend entirely and unwind
// as RUNNING.
func (t *Task) TryBlock(kind WaitKind, cond any, label string) bool {
	if t.Killed() {
		return false
	}
	t.mu.Lock()
	t.state = Blocked
	t.waitReason = WaitReason{Kind: kind, Cond: cond, Label: label}
	t.mu.Unlock()
	t.owner.CommitBlock(t)
	return true
}

// Suspend performs the actual context switch back to the task-thread
// loop after a successful TryBlock. It returns once some sender (or
// Kill) wakes the task; *killedOut reports whether that wakeup was due
// to a kill rather than the condition being satisfied.
func (t *Task) Suspend(killedOut *bool) {
	t.ctx.Yield()
	if t.Killed() {
		*killedOut = true
	}
}

// BlockedOn reports whether the task is currently BLOCKED on cond.
func (t *Task) BlockedOn(cond any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Blocked && t.waitReason.Cond == cond
}

// WaitReason returns the task's current wait reason (zero value if not
// blocked).
func (t *Task) WaitReason() WaitReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waitReason
}

// SetRendezvousDst records where a subsequent sender should write a
// message directly, bypassing a second buffer hop. Must be called
// before TryBlock.
func (t *Task) SetRendezvousDst(dst []byte) {
	t.mu.Lock()
	t.rendezvousDst = dst
	t.mu.Unlock()
}

// RendezvousDst returns the slice last set by SetRendezvousDst.
func (t *Task) RendezvousDst() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rendezvousDst
}

// ClearRendezvousDst releases the rendezvous slot once it's been
// consumed (or the block is abandoned due to a kill).
func (t *Task) ClearRendezvousDst() {
	t.mu.Lock()
	t.rendezvousDst = nil
	t.mu.Unlock()
}

// SetSelectResult records which port a select rendezvous resolved to.
// Used in place of a generically-typed rendezvous pointer, since Go
// lets the receive path and the select path use distinctly typed
// slots instead of reusing one untyped uintptr* for both.
func (t *Task) SetSelectResult(p *port.Port) {
	t.mu.Lock()
	t.selectResult = p
	t.mu.Unlock()
}

// SelectResult returns the port set by SetSelectResult.
func (t *Task) SelectResult() *port.Port {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selectResult
}

// Wakeup transitions BLOCKED -> RUNNING and requeues the task on its
// owning task-thread. cond must match the condition the task is
// currently blocked on; a mismatch is a runtime-fatal invariant
// violation, reported as a panic rather than silently
// ignored.
func (t *Task) Wakeup(cond any) {
	t.mu.Lock()
	if t.state != Blocked || t.waitReason.Cond != cond {
		t.mu.Unlock()
		panic(fmt.Sprintf("task %d: wakeup on mismatched condition (state=%v)", t.ID, t.state))
	}
	t.state = Running
	t.waitReason = WaitReason{}
	t.mu.Unlock()
	t.owner.Requeue(t)
}

// Activate runs the task's entry function to its next suspension
// point (or to completion). Called only by the owning task-thread's
// scheduler loop, with its scheduler lock released — the loop's
// activation contract.
func (t *Task) Activate() {
	if !t.launched {
		t.launched = true
		t.ctx.Start(t.run)
		return
	}
	t.ctx.Resume()
}

// Done reports whether the task's entry function has returned (and
// Activate need not be called again).
func (t *Task) Done() bool { return t.ctx.Done() }

func (t *Task) run() {
	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			t.exitErr = fmt.Errorf("task %d (%s) failed: %v", t.ID, t.Name, r)
			t.mu.Unlock()
			if t.log != nil {
				t.log.Event(rtlog.Task, zerolog.ErrorLevel).Uint64("task_id", t.ID).Interface("panic", r).Msg("task-fatal")
			}
		}
		t.mu.Lock()
		t.state = Dead
		t.mu.Unlock()
		t.ctx.Finish()
	}()
	t.entry(t)
}

// AddPort registers a newly created port as owned by this task.
func (t *Task) AddPort(p *port.Port) {
	t.portsMu.Lock()
	t.ports[p.ID] = p
	t.portsMu.Unlock()
}

// RemovePort drops a port from this task's owned-port map (called once
// the port has been fully detached/freed).
func (t *Task) RemovePort(id uint64) {
	t.portsMu.Lock()
	delete(t.ports, id)
	t.portsMu.Unlock()
}

// LookupPort resolves a port id against this task's owned-port map.
// Safe to call from a foreign sender's goroutine.
func (t *Task) LookupPort(id uint64) (*port.Port, bool) {
	t.portsMu.Lock()
	defer t.portsMu.Unlock()
	p, ok := t.ports[id]
	return p, ok
}

// Ports returns a snapshot slice of the task's currently owned ports.
func (t *Task) Ports() []*port.Port {
	t.portsMu.Lock()
	defer t.portsMu.Unlock()
	out := make([]*port.Port, 0, len(t.ports))
	for _, p := range t.ports {
		out = append(out, p)
	}
	return out
}
