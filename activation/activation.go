// Package activation implements the runtime's stack-switch discipline
// the way Go can actually express it. A native cooperative runtime
// context-switches an OS thread's C stack onto a task's own stack and
// back; Go already gives every goroutine its own growable stack and
// forbids jumping between them, so here a Task's "own stack" is a
// dedicated goroutine, and "context swap" is a blocking rendezvous on
// a pair of channels. The contract that matters — exactly one side of
// the swap runs at a time, the scheduler lock is released across it,
// activation/deactivation are symmetric — holds exactly the same way.
package activation

// StackSegment tracks a task's configured stack size and whether it
// came from a pool or was allocated fresh. Go manages the goroutine's
// real stack; this only carries the bookkeeping a Task needs to report.
type StackSegment struct {
	Size   uint64
	Pooled bool
}

// handoff is one direction of a context swap: a rendezvous with no
// payload, since control transfer carries all the information needed
// (the receiving side already knows what state it left off in).
type handoff chan struct{}

func newHandoff() handoff { return make(handoff) }

// Context is the activation record shared between a task-thread's loop
// goroutine and one task goroutine. Exactly one of {toTask, toThread}
// is ever "owed" a signal at a time, which is what makes this a valid
// stand-in for a single saved register context rather than a general
// channel.
type Context struct {
	toTask   handoff // thread -> task: "you're activated, run"
	toThread handoff // task -> thread: "I yielded/blocked/died, your turn"
	done     bool    // task has returned from its entry function
}

// NewContext allocates a fresh activation record for one task.
func NewContext() *Context {
	return &Context{toTask: newHandoff(), toThread: newHandoff()}
}

// Resume is called by the task-thread loop to hand control to the task
// goroutine and block until that goroutine yields, blocks, or dies.
// This is the Go analogue of the swap into the task's stack followed by
// the mirror swap back when the task relinquishes control.
func (c *Context) Resume() {
	c.toTask <- struct{}{}
	<-c.toThread
}

// Yield is called from inside the task goroutine at a suspension point:
// it hands control back to the task-thread loop and parks until the
// loop reactivates it. Never call this from the task-thread's own
// goroutine — that would deadlock, since stack-switch operations only
// ever run on the appropriate stack.
func (c *Context) Yield() {
	c.toThread <- struct{}{}
	<-c.toTask
}

// Finish is called exactly once, from inside the task goroutine, when
// its entry function returns or it observes its kill flag and unwinds.
// It hands control back without parking for a future resume.
func (c *Context) Finish() {
	c.done = true
	c.toThread <- struct{}{}
}

// Start launches the task's goroutine running entry, and blocks the
// calling task-thread loop until the goroutine either reaches its first
// Yield or calls Finish without ever yielding. entry must call Yield at
// every suspension point and Finish on its way out; it must not return
// without calling Finish.
func (c *Context) Start(entry func()) {
	go func() {
		<-c.toTask
		entry()
	}()
	c.toTask <- struct{}{}
	<-c.toThread
}

// Done reports whether the task's entry function has returned.
func (c *Context) Done() bool { return c.done }

// Pool is the activation-context free list, standing in for a native
// runtime's cached per-task-thread C stack: reusing a Context (really,
// its two channels) avoids a pair of channel allocations on every task
// activation once the pool has warmed up.
type Pool struct {
	free []*Context
}

// NewPool creates an empty activation-context pool.
func NewPool() *Pool { return &Pool{} }

// Get returns a pooled Context if one is free (with done cleared, ready
// for a new task to Start on it), or a freshly allocated one otherwise.
// reused reports which happened, so a caller that tracks pool-hit rate
// (StackSegment.Pooled) doesn't need to inspect the pool itself.
func (p *Pool) Get() (ctx *Context, reused bool) {
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		c.done = false
		return c, true
	}
	return NewContext(), false
}

// Put returns a finished Context to the pool for reuse by the next
// activated task on this task-thread.
func (p *Pool) Put(c *Context) {
	if !c.done {
		panic("activation: returned a context still in use")
	}
	p.free = append(p.free, c)
}
