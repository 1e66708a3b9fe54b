package scheduler

import "taskrt/task"

// KernelHooks is the scheduler's one cross-package surface toward the
// kernel that owns it: a task fully dying (so the kernel can propagate
// supervision failure and fold the exit status into the process-wide
// maximum) and every task-thread in this group having exited (so a
// kernel-driven shutdown can join it).
type KernelHooks interface {
	TaskDied(schedID uint64, t *task.Task)
	AllThreadsExited(schedID uint64)
}

// stats is the scheduler's live bookkeeping, protected by Scheduler.mu.
// Stands in for the original's per-P run-queue accounting (p.runqhead/
// runqtail/runnext): this runtime's placement unit is a whole task-
// thread rather than a lock-free per-P ring buffer, so there's nothing
// left to account for per task-thread beyond these two counters.
type stats struct {
	liveTasks   int
	liveThreads int
}
