// Package taskthread implements the task-thread: an OS thread (here,
// a goroutine) running a scheduler loop over a task-thread-local set
// of newborn, running, blocked and dead tasks. Grounded on Go's own
// findRunnable/schedule shape (pick a runnable goroutine, run it with
// the scheduler lock released, file the result back by resulting
// state) and its per-P run queues, reinterpreted as four lifecycle
// lists instead of Go's own run-queue/netpoller machinery.
package taskthread

import (
	"sync"

	"github.com/rs/zerolog"

	"taskrt/activation"
	"taskrt/internal/prng"
	"taskrt/internal/rtlog"
	"taskrt/task"
)

// Notifier is the task-thread's one cross-goroutine surface toward its
// owning scheduler (thread group): it reports a task fully dying and
// its own run loop returning, so the group can update its live-task /
// live-thread bookkeeping and propagate supervision failures.
type Notifier interface {
	TaskExited(tt *TaskThread, t *task.Task)
	ThreadExiting(tt *TaskThread)
}

// TaskThread holds the four task lists (a task resides in exactly one
// of them at a time) plus the scheduler lock and
// condition variable that the loop idle-waits on when nothing is
// runnable and shutdown hasn't been requested.
type TaskThread struct {
	ID    int
	Group Notifier
	log   *rtlog.Logger
	rnd   *prng.Source
	pool  *activation.Pool

	mu         sync.Mutex
	cond       *sync.Cond
	newborn    []*task.Task
	running    []*task.Task
	blocked    []*task.Task
	dead       []*task.Task
	placed     map[*task.Task]bool // see CommitBlock/Requeue
	shouldExit bool
}

// New creates an idle task-thread. Call Run (typically in its own
// goroutine) to start its scheduler loop.
func New(id int, group Notifier, log *rtlog.Logger) *TaskThread {
	tt := &TaskThread{
		ID:    id,
		Group: group,
		log:   log,
		rnd:   prng.New(),
		pool:  activation.NewPool(),
		placed: make(map[*task.Task]bool),
	}
	tt.cond = sync.NewCond(&tt.mu)
	return tt
}

// Spawn enqueues a freshly constructed NEWBORN task. Safe to call from
// any goroutine, including the thread-group's placement logic.
func (tt *TaskThread) Spawn(t *task.Task) {
	tt.mu.Lock()
	tt.newborn = append(tt.newborn, t)
	tt.cond.Signal()
	tt.mu.Unlock()
}

// Shutdown requests that the loop return once all of its non-dead
// lists have drained. It does not forcibly kill any task; a task-thread
// with tasks permanently blocked on a port nobody will ever send to
// simply never drains, matching this runtime's cooperative model.
func (tt *TaskThread) Shutdown() {
	tt.mu.Lock()
	tt.shouldExit = true
	tt.cond.Broadcast()
	tt.mu.Unlock()
}

// CommitBlock implements task.Owner. It is called by the blocking
// task's own goroutine while it may still hold an external lock (a
// port's), registering the task as blocked before that lock is
// released so a racing sender's Wakeup always finds it.
func (tt *TaskThread) CommitBlock(t *task.Task) {
	tt.mu.Lock()
	tt.blocked = append(tt.blocked, t)
	tt.placed[t] = true
	tt.mu.Unlock()
}

// Requeue implements task.Owner: move a blocked task back onto the
// running list and wake the loop if it was idle-waiting. placed[t] is
// set here too, so the loop's post-activation step (which may run
// concurrently, racing this very call) knows not to also append t to
// running when it next inspects the task's state.
func (tt *TaskThread) Requeue(t *task.Task) {
	tt.mu.Lock()
	for i, bt := range tt.blocked {
		if bt == t {
			tt.blocked = append(tt.blocked[:i], tt.blocked[i+1:]...)
			break
		}
	}
	tt.running = append(tt.running, t)
	tt.placed[t] = true
	tt.cond.Signal()
	tt.mu.Unlock()
}

// KillAllTasks is the task-thread's emergency-shutdown primitive:
// every task currently RUNNING or BLOCKED is collected under the
// scheduler lock, unsupervised (so its death won't re-notify a living
// supervisor partway through the sweep) and killed. This is what lets
// Shutdown's drain make progress past a task permanently blocked on a
// port nobody will ever send to.
func (tt *TaskThread) KillAllTasks() {
	tt.mu.Lock()
	victims := make([]*task.Task, 0, len(tt.running)+len(tt.blocked))
	victims = append(victims, tt.running...)
	victims = append(victims, tt.blocked...)
	tt.mu.Unlock()
	for _, t := range victims {
		t.Unsupervise()
		t.Kill()
	}
}

// Lists returns a snapshot of the four lifecycle lists, for tests and
// introspection. Each returned slice is a fresh copy.
func (tt *TaskThread) Lists() (newborn, running, blocked, dead []*task.Task) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	cp := func(s []*task.Task) []*task.Task {
		out := make([]*task.Task, len(s))
		copy(out, s)
		return out
	}
	return cp(tt.newborn), cp(tt.running), cp(tt.blocked), cp(tt.dead)
}

// Run is the task-thread's scheduler loop. It picks a runnable task at
// random from the combined newborn+running pool, activates it with the
// scheduler lock released, files the result back onto the appropriate
// list by the task's resulting state, and reaps at most one dead task
// per turn to bound per-turn work. It returns once shutdown has
// been requested and every list but dead has drained.
func (tt *TaskThread) Run() {
	defer tt.Group.ThreadExiting(tt)
	for {
		tt.reapOne()
		t, isNewborn, ok := tt.pick()
		if !ok {
			return
		}
		if isNewborn {
			t.Claim(tt.pool)
			t.Start()
		}
		tt.activateAndFile(t)
	}
}

func (tt *TaskThread) reapOne() {
	tt.mu.Lock()
	if len(tt.dead) == 0 {
		tt.mu.Unlock()
		return
	}
	t := tt.dead[0]
	tt.dead = tt.dead[1:]
	tt.mu.Unlock()
	tt.Group.TaskExited(tt, t)
}

func (tt *TaskThread) pick() (t *task.Task, isNewborn bool, ok bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	for {
		total := len(tt.newborn) + len(tt.running)
		if total > 0 {
			idx := tt.rnd.Intn(total)
			if idx < len(tt.newborn) {
				t = tt.newborn[idx]
				tt.newborn = append(tt.newborn[:idx], tt.newborn[idx+1:]...)
				return t, true, true
			}
			idx -= len(tt.newborn)
			t = tt.running[idx]
			tt.running = append(tt.running[:idx], tt.running[idx+1:]...)
			return t, false, true
		}
		if tt.shouldExit && len(tt.blocked) == 0 && len(tt.dead) == 0 {
			return nil, false, false
		}
		tt.cond.Wait()
	}
}

func (tt *TaskThread) activateAndFile(t *task.Task) {
	t.Activate()

	if t.State() == task.Dead {
		t.Release(tt.pool)
		tt.mu.Lock()
		tt.dead = append(tt.dead, t)
		delete(tt.placed, t)
		tt.mu.Unlock()
		if tt.log != nil {
			tt.log.Event(rtlog.Task, zerolog.DebugLevel).
				Int("task_thread", tt.ID).Uint64("task_id", t.ID).Msg("task died")
		}
		return
	}

	tt.mu.Lock()
	if !tt.placed[t] {
		// Plain cooperative yield: the task never called TryBlock and
		// no Requeue has filed it, so it's not yet on any list. File it
		// back onto running.
		tt.running = append(tt.running, t)
	}
	delete(tt.placed, t)
	tt.mu.Unlock()
}
