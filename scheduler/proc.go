// Package scheduler implements the scheduler (thread group): a
// fixed-size pool of task-threads, new tasks placed onto them
// round-robin, and process-wide shutdown joined via an errgroup once
// every member task-thread's loop has returned. Reinterpreted around
// whole task-
// threads instead of per-P run queues.
package scheduler

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"taskrt/internal/rtlog"
	"taskrt/task"
	"taskrt/taskthread"
)

// Scheduler is one thread group: a fixed set of task-threads sharing a
// round-robin placement cursor and a live-task/live-thread count.
type Scheduler struct {
	ID    uint64
	hooks KernelHooks
	log   *rtlog.Logger

	mu      sync.Mutex
	threads []*taskthread.TaskThread
	cur     int
	stats   stats

	eg *errgroup.Group
}

// New creates a scheduler of nThreads task-threads, none of them
// running yet. Call Start to launch their loops.
func New(id uint64, nThreads int, hooks KernelHooks, log *rtlog.Logger) *Scheduler {
	if nThreads < 1 {
		nThreads = 1
	}
	s := &Scheduler{ID: id, hooks: hooks, log: log}
	for i := 0; i < nThreads; i++ {
		s.threads = append(s.threads, taskthread.New(i, s, log))
	}
	s.stats.liveThreads = nThreads
	return s
}

// Start launches every task-thread's scheduler loop in its own
// goroutine, joined through an errgroup so a caller can Wait for full
// shutdown.
func (s *Scheduler) Start() {
	var eg errgroup.Group
	for _, tt := range s.threads {
		tt := tt
		eg.Go(func() error {
			tt.Run()
			return nil
		})
	}
	s.eg = &eg
}

// Wait blocks until every task-thread in this group has returned from
// its loop (i.e. after Shutdown has drained everything).
func (s *Scheduler) Wait() {
	if s.eg != nil {
		_ = s.eg.Wait()
	}
}

// ThreadCount returns the number of task-threads in this group.
func (s *Scheduler) ThreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// LiveTasks returns the number of tasks currently spawned on this
// scheduler and not yet reaped.
func (s *Scheduler) LiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.liveTasks
}

// NextThread returns the task-thread the next task should be placed
// on, advancing the round-robin cursor.
func (s *Scheduler) NextThread() *taskthread.TaskThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt := s.threads[s.cur]
	s.cur = (s.cur + 1) % len(s.threads)
	return tt
}

// Spawn places t (already constructed with its owner set to tt, a
// member of this group) onto tt and counts it as live.
func (s *Scheduler) Spawn(tt *taskthread.TaskThread, t *task.Task) {
	s.mu.Lock()
	s.stats.liveTasks++
	s.mu.Unlock()
	tt.Spawn(t)
}

// Shutdown asks every task-thread in the group to exit once drained.
// It does not block; call Wait to join.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	threads := append([]*taskthread.TaskThread(nil), s.threads...)
	s.mu.Unlock()
	for _, tt := range threads {
		tt.Shutdown()
	}
}

// KillAllTasks is the scheduler-level emergency-shutdown primitive:
// every running or blocked task on every member task-thread is
// unsupervised then killed. Callers still need Shutdown to actually
// request the loops exit once the resulting drain completes.
func (s *Scheduler) KillAllTasks() {
	s.mu.Lock()
	threads := append([]*taskthread.TaskThread(nil), s.threads...)
	s.mu.Unlock()
	for _, tt := range threads {
		tt.KillAllTasks()
	}
}

// TaskExited implements taskthread.Notifier: a member task-thread
// reaped one of its tasks. Once the group's live-task count hits zero,
// this is the group's own exit: every member task-thread is ordered to
// set its should-exit flag and wake, the same way the last task
// returning on the root scheduler initiates process shutdown.
func (s *Scheduler) TaskExited(tt *taskthread.TaskThread, t *task.Task) {
	s.mu.Lock()
	s.stats.liveTasks--
	drained := s.stats.liveTasks == 0
	s.mu.Unlock()
	if s.hooks != nil {
		s.hooks.TaskDied(s.ID, t)
	}
	if drained {
		s.Shutdown()
	}
}

// ThreadExiting implements taskthread.Notifier: a member task-thread's
// loop is about to return. Once every member has, the scheduler
// notifies the kernel so a process-wide shutdown can progress.
func (s *Scheduler) ThreadExiting(tt *taskthread.TaskThread) {
	s.mu.Lock()
	s.stats.liveThreads--
	done := s.stats.liveThreads == 0
	s.mu.Unlock()
	if done && s.hooks != nil {
		s.hooks.AllThreadsExited(s.ID)
	}
}
