// Package taskrt is the kernel: the single process-wide owner of
// every task, scheduler and port, indexed by id rather than by raw
// pointer so that cross-goroutine references never outlive the object
// they name. It exposes the runtime's whole external interface;
// everything else in this module is reachable only through it.
package taskrt

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"taskrt/config"
	"taskrt/internal/rtlog"
	"taskrt/port"
	"taskrt/portselect"
	"taskrt/scheduler"
	"taskrt/task"
	"taskrt/taskthread"
)

type placement struct {
	schedID uint64
	thread  *taskthread.TaskThread
}

// Kernel is the runtime's single point of entry. Construct one with
// New, spawn tasks on it, and call Shutdown/Wait to drain it.
type Kernel struct {
	cfg config.Config
	log *rtlog.Logger

	idMu   sync.Mutex
	nextID uint64

	taskMu sync.Mutex
	tasks  map[uint64]*task.Task

	placeMu    sync.Mutex
	placements map[uint64]placement

	schedMu sync.Mutex
	scheds  map[uint64]*scheduler.Scheduler

	portMu sync.Mutex
	ports  map[uint64]*port.Port

	exitMu     sync.Mutex
	exitStatus int

	rootSchedID uint64
}

// New resolves its Config from the environment and constructs a
// Kernel with one root scheduler already running.
func New() (*Kernel, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("taskrt: resolving config: %w", err)
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig constructs a Kernel from an already-resolved Config,
// bypassing environment lookups (used by tests and embedders that want
// deterministic knobs).
func NewWithConfig(cfg config.Config) *Kernel {
	log := rtlog.New(os.Stderr, cfg.LogMask, cfg.LogOn)
	k := &Kernel{
		cfg:        cfg,
		log:        log,
		tasks:      make(map[uint64]*task.Task),
		placements: make(map[uint64]placement),
		scheds:     make(map[uint64]*scheduler.Scheduler),
		ports:      make(map[uint64]*port.Port),
	}
	k.rootSchedID = k.NewSched(cfg.SchedThreads)
	return k
}

func (k *Kernel) allocID() uint64 {
	k.idMu.Lock()
	defer k.idMu.Unlock()
	k.nextID++
	return k.nextID
}

// NewSched creates and starts a new scheduler (thread group) of
// nThreads task-threads and returns its id.
func (k *Kernel) NewSched(nThreads int) uint64 {
	id := k.allocID()
	s := scheduler.New(id, nThreads, k, k.log)
	k.schedMu.Lock()
	k.scheds[id] = s
	k.schedMu.Unlock()
	s.Start()
	return id
}

// SchedThreads reports how many task-threads the given scheduler runs.
func (k *Kernel) SchedThreads(schedID uint64) (int, bool) {
	k.schedMu.Lock()
	s, ok := k.scheds[schedID]
	k.schedMu.Unlock()
	if !ok {
		return 0, false
	}
	return s.ThreadCount(), true
}

// GetSchedID reports which scheduler a task was placed on.
func (k *Kernel) GetSchedID(taskID uint64) (uint64, bool) {
	k.placeMu.Lock()
	defer k.placeMu.Unlock()
	pl, ok := k.placements[taskID]
	if !ok {
		return 0, false
	}
	return pl.schedID, true
}

// NewTask constructs a NEWBORN task on the kernel's root scheduler and
// returns its id. The task is not yet eligible for scheduling; call
// StartTask to enqueue it.
func (k *Kernel) NewTask(name string, stackSize uint64, entry func(*task.Task)) uint64 {
	id, err := k.NewTaskInSched(k.rootSchedID, name, stackSize, entry)
	if err != nil {
		panic(err) // the root scheduler always exists for the life of the kernel
	}
	return id
}

// NewTaskInSched is NewTask for an explicitly chosen scheduler.
func (k *Kernel) NewTaskInSched(schedID uint64, name string, stackSize uint64, entry func(*task.Task)) (uint64, error) {
	k.schedMu.Lock()
	s, ok := k.scheds[schedID]
	k.schedMu.Unlock()
	if !ok {
		return 0, fmt.Errorf("taskrt: unknown scheduler %d", schedID)
	}
	if stackSize < k.cfg.MinStackSize {
		stackSize = k.cfg.MinStackSize
	}

	id := k.allocID()
	tt := s.NextThread()
	t := task.New(id, name, schedID, tt, entry, stackSize, k.log)

	k.taskMu.Lock()
	k.tasks[id] = t
	k.taskMu.Unlock()
	k.placeMu.Lock()
	k.placements[id] = placement{schedID: schedID, thread: tt}
	k.placeMu.Unlock()

	k.log.Event(rtlog.Task, zerolog.DebugLevel).Uint64("task_id", id).Str("name", name).Msg("task created")
	return id, nil
}

// StartTask enqueues a previously constructed task onto its placed
// task-thread's newborn list, making it eligible for scheduling.
func (k *Kernel) StartTask(taskID uint64) error {
	t, ok := k.GetTask(taskID)
	if !ok {
		return fmt.Errorf("taskrt: unknown task %d", taskID)
	}
	k.placeMu.Lock()
	pl, ok := k.placements[taskID]
	k.placeMu.Unlock()
	if !ok {
		return fmt.Errorf("taskrt: task %d has no recorded placement", taskID)
	}
	k.schedMu.Lock()
	s, ok := k.scheds[pl.schedID]
	k.schedMu.Unlock()
	if !ok {
		return fmt.Errorf("taskrt: task %d's scheduler %d no longer exists", taskID, pl.schedID)
	}
	s.Spawn(pl.thread, t)
	return nil
}

// DropTask releases the caller's reference to a task. Once the last
// reference is dropped (and the task is DEAD, or never started) the
// kernel forgets it.
func (k *Kernel) DropTask(taskID uint64) error {
	t, ok := k.GetTask(taskID)
	if !ok {
		return fmt.Errorf("taskrt: unknown task %d", taskID)
	}
	if t.Deref() > 0 {
		return nil
	}
	k.taskMu.Lock()
	delete(k.tasks, taskID)
	k.taskMu.Unlock()
	k.placeMu.Lock()
	delete(k.placements, taskID)
	k.placeMu.Unlock()
	return nil
}

// GetTaskID returns t's id (a thin accessor; task code that already
// holds its own *task.Task rarely needs this, but supervisors handed a
// task only by id elsewhere in the API benefit from the symmetry).
func (k *Kernel) GetTaskID(t *task.Task) uint64 { return t.ID }

// GetTask resolves a task id to its live *task.Task.
func (k *Kernel) GetTask(taskID uint64) (*task.Task, bool) {
	k.taskMu.Lock()
	defer k.taskMu.Unlock()
	t, ok := k.tasks[taskID]
	return t, ok
}

// Unsupervise breaks a task's supervision link so its eventual failure
// no longer propagates to its spawner.
func (k *Kernel) Unsupervise(taskID uint64) error {
	t, ok := k.GetTask(taskID)
	if !ok {
		return fmt.Errorf("taskrt: unknown task %d", taskID)
	}
	t.Unsupervise()
	return nil
}

// Yield is the facade for task.Task.Yield: it yields t and returns the
// killed flag as a result instead of through an out-parameter.
func (k *Kernel) Yield(t *task.Task) (killed bool) {
	t.Yield(&killed)
	return killed
}

// SetExitStatus folds code into the process-wide exit status as
// max(current, code); the kernel never reports a status lower than one
// already recorded.
func (k *Kernel) SetExitStatus(code int) {
	k.exitMu.Lock()
	if code > k.exitStatus {
		k.exitStatus = code
	}
	k.exitMu.Unlock()
}

// ExitStatus returns the process-wide exit status accumulated so far.
func (k *Kernel) ExitStatus() int {
	k.exitMu.Lock()
	defer k.exitMu.Unlock()
	return k.exitStatus
}

// NewPort creates a port owned by ownerTaskID and returns its id.
func (k *Kernel) NewPort(ownerTaskID uint64, unitSize, capacity int) (uint64, error) {
	owner, ok := k.GetTask(ownerTaskID)
	if !ok {
		return 0, fmt.Errorf("taskrt: unknown task %d", ownerTaskID)
	}
	id := k.allocID()
	p := port.New(id, ownerTaskID, unitSize, capacity)
	k.portMu.Lock()
	k.ports[id] = p
	k.portMu.Unlock()
	owner.AddPort(p)
	return id, nil
}

// GetPortID returns p's id.
func (k *Kernel) GetPortID(p *port.Port) uint64 { return p.ID }

// RefPort increments a port's reference count. A task that intends to
// hold onto a foreign port handle across multiple sends (rather than
// looking it up fresh each time) takes a reference so DetachPort on the
// owning side waits for it to be dropped first.
func (k *Kernel) RefPort(portID uint64) error {
	p, ok := k.lookupPort(portID)
	if !ok {
		return fmt.Errorf("taskrt: unknown port %d", portID)
	}
	p.Ref()
	return nil
}

// DerefPort releases a reference taken by RefPort.
func (k *Kernel) DerefPort(portID uint64) error {
	p, ok := k.lookupPort(portID)
	if !ok {
		return fmt.Errorf("taskrt: unknown port %d", portID)
	}
	p.Deref()
	return nil
}

func (k *Kernel) lookupPort(portID uint64) (*port.Port, bool) {
	k.portMu.Lock()
	defer k.portMu.Unlock()
	p, ok := k.ports[portID]
	return p, ok
}

// PortSize reports how many messages are currently buffered on a port.
func (k *Kernel) PortSize(portID uint64) (int, bool) {
	p, ok := k.lookupPort(portID)
	if !ok {
		return 0, false
	}
	return p.Len(), true
}

// DelPort administratively removes a port regardless of outstanding
// foreign references. Well-behaved callers
// that want to wait for foreign senders to finish first should use
// DetachPort instead.
func (k *Kernel) DelPort(portID uint64) error {
	k.portMu.Lock()
	p, ok := k.ports[portID]
	if ok {
		delete(k.ports, portID)
	}
	k.portMu.Unlock()
	if !ok {
		return fmt.Errorf("taskrt: unknown port %d", portID)
	}
	if owner, ok := k.GetTask(p.OwnerTaskID); ok {
		owner.RemovePort(portID)
	}
	return nil
}

// DetachPort is the owner-initiated, cooperative counterpart to
// DelPort: it blocks the calling goroutine until every foreign sender
// has dropped its reference, then removes the port. Rather than
// busy-waiting on the refcount, this blocks on a condition variable.
func (k *Kernel) DetachPort(t *task.Task, portID uint64) error {
	p, ok := k.lookupPort(portID)
	if !ok {
		return fmt.Errorf("taskrt: unknown port %d", portID)
	}
	if p.OwnerTaskID != t.ID {
		return fmt.Errorf("taskrt: task %d does not own port %d", t.ID, portID)
	}
	p.WaitForSoleRef()
	k.portMu.Lock()
	delete(k.ports, portID)
	k.portMu.Unlock()
	t.RemovePort(portID)
	return nil
}

// ChanSend enqueues data (exactly the port's unit size) onto portID's
// buffer and, if the owning task is parked waiting on this exact port
// (directly, or via Select), wakes it. The enqueue and the blocked-
// owner check happen under the port's own lock as one step, so a
// concurrent receiver committing to block can never be missed.
func (k *Kernel) ChanSend(portID uint64, data []byte) error {
	p, ok := k.lookupPort(portID)
	if !ok {
		return fmt.Errorf("taskrt: send: unknown port %d", portID)
	}
	if len(data) != p.UnitSize() {
		return fmt.Errorf("taskrt: send: message is %d bytes, port wants %d", len(data), p.UnitSize())
	}
	owner, hasOwner := k.GetTask(p.OwnerTaskID)

	p.Lock()
	pushed := p.EnqueueLocked(data)
	if pushed && hasOwner {
		notifyPortHasMessageLocked(p, owner)
	}
	p.Unlock()

	if !pushed {
		return fmt.Errorf("taskrt: send: port %d is full", portID)
	}
	return nil
}

// notifyPortHasMessageLocked is called with p's lock held, immediately
// after a message was pushed onto it, to resolve whatever the owner is
// currently waiting on: either a direct msg_sent_on-style select
// rendezvous or a plain blocked-receiver handoff.
func notifyPortHasMessageLocked(p *port.Port, owner *task.Task) {
	wr := owner.WaitReason()
	switch wr.Kind {
	case task.WaitPort:
		if wr.Cond == p {
			if dst := owner.RendezvousDst(); dst != nil {
				p.DequeueIntoLocked(dst)
			}
			owner.Wakeup(p)
		}
	case task.WaitSelect:
		if sel, ok := wr.Cond.(*portselect.Selector); ok {
			sel.MsgSentOn(p)
		}
	}
}

// PortRecv blocks t until a message is available on portID or t is
// killed, copying the message into dst (exactly the port's unit size).
// *killedOut reports whether it returned because t was killed rather
// than because a message arrived.
func (k *Kernel) PortRecv(t *task.Task, portID uint64, dst []byte, killedOut *bool) error {
	p, ok := k.lookupPort(portID)
	if !ok {
		return fmt.Errorf("taskrt: recv: unknown port %d", portID)
	}
	if len(dst) != p.UnitSize() {
		return fmt.Errorf("taskrt: recv: destination is %d bytes, port wants %d", len(dst), p.UnitSize())
	}
	if p.OwnerTaskID != t.ID {
		return fmt.Errorf("taskrt: recv: task %d does not own port %d", t.ID, portID)
	}

	p.Lock()
	if p.DequeueIntoLocked(dst) {
		p.Unlock()
		return nil
	}
	if t.Killed() {
		p.Unlock()
		*killedOut = true
		return nil
	}
	t.SetRendezvousDst(dst)
	blocked := t.TryBlock(task.WaitPort, p, "waiting for rendezvous data")
	p.Unlock()

	if !blocked {
		t.ClearRendezvousDst()
		*killedOut = true
		return nil
	}
	t.Suspend(killedOut)
	t.ClearRendezvousDst()
	return nil
}

// Select blocks t until one of portIDs has a buffered message or t is
// killed, and reports which port became ready. The message itself is
// still drained by a subsequent PortRecv call on the returned id.
func (k *Kernel) Select(t *task.Task, portIDs []uint64, killedOut *bool) (chosenPortID uint64, err error) {
	if len(portIDs) == 0 {
		return 0, fmt.Errorf("taskrt: select: no ports given")
	}
	ports := make([]*port.Port, 0, len(portIDs))
	for _, id := range portIDs {
		p, ok := k.lookupPort(id)
		if !ok {
			return 0, fmt.Errorf("taskrt: select: unknown port %d", id)
		}
		if p.OwnerTaskID != t.ID {
			return 0, fmt.Errorf("taskrt: select: task %d does not own port %d", t.ID, id)
		}
		ports = append(ports, p)
	}

	sel := portselect.New(t)
	chosen, _ := sel.Select(ports, killedOut)
	if chosen == nil {
		return 0, nil
	}
	return chosen.ID, nil
}

// TaskDied implements scheduler.KernelHooks: a task-thread reaped one
// of its tasks. A task-fatal failure folds into the process exit
// status and, unless the task had unsupervised itself, propagates as a
// kill to its supervisor.
func (k *Kernel) TaskDied(schedID uint64, t *task.Task) {
	if err := t.ExitErr(); err == nil {
		return
	}
	k.SetExitStatus(1)
	supID, hasSupervisor := t.SupervisorID()
	if !hasSupervisor {
		return
	}
	if sup, ok := k.GetTask(supID); ok {
		sup.Kill()
	}
}

// AllThreadsExited implements scheduler.KernelHooks.
func (k *Kernel) AllThreadsExited(schedID uint64) {
	k.log.Event(rtlog.Task, zerolog.DebugLevel).Uint64("sched_id", schedID).Msg("scheduler drained")
}

// Shutdown asks every scheduler to drain and exit; it does not block.
func (k *Kernel) Shutdown() {
	k.schedMu.Lock()
	scheds := make([]*scheduler.Scheduler, 0, len(k.scheds))
	for _, s := range k.scheds {
		scheds = append(scheds, s)
	}
	k.schedMu.Unlock()
	for _, s := range scheds {
		s.Shutdown()
	}
}

// ForceShutdown is the emergency-shutdown path: every running or
// blocked task on every scheduler is unsupervised then killed (so no
// stray failure propagation triggers mid-sweep), and every scheduler is
// then asked to drain and exit exactly as Shutdown does. Unlike plain
// Shutdown, this makes progress even past tasks permanently blocked on
// a port nobody will ever send to.
func (k *Kernel) ForceShutdown() {
	k.schedMu.Lock()
	scheds := make([]*scheduler.Scheduler, 0, len(k.scheds))
	for _, s := range k.scheds {
		scheds = append(scheds, s)
	}
	k.schedMu.Unlock()
	for _, s := range scheds {
		s.KillAllTasks()
	}
	k.Shutdown()
}

// Wait blocks until every scheduler's task-threads have fully drained.
func (k *Kernel) Wait() {
	k.schedMu.Lock()
	scheds := make([]*scheduler.Scheduler, 0, len(k.scheds))
	for _, s := range k.scheds {
		scheds = append(scheds, s)
	}
	k.schedMu.Unlock()
	for _, s := range scheds {
		s.Wait()
	}
}
