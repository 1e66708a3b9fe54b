package scheduler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskrt/scheduler"
	"taskrt/task"
)

type fakeHooks struct {
	mu       sync.Mutex
	died     []uint64
	drained  []uint64
}

func (h *fakeHooks) TaskDied(schedID uint64, t *task.Task) {
	h.mu.Lock()
	h.died = append(h.died, t.ID)
	h.mu.Unlock()
}

func (h *fakeHooks) AllThreadsExited(schedID uint64) {
	h.mu.Lock()
	h.drained = append(h.drained, schedID)
	h.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSchedulerRoundRobinPlacement(t *testing.T) {
	hooks := &fakeHooks{}
	s := scheduler.New(1, 3, hooks, nil)
	s.Start()
	defer func() {
		s.Shutdown()
		s.Wait()
	}()

	threads := make(map[int]bool)
	for i := 0; i < 6; i++ {
		tt := s.NextThread()
		threads[tt.ID] = true
	}
	require.Len(t, threads, 3, "round-robin should have touched every task-thread")
}

func TestSchedulerDrainsAndReapsOnShutdown(t *testing.T) {
	hooks := &fakeHooks{}
	s := scheduler.New(1, 2, hooks, nil)
	s.Start()

	tt := s.NextThread()
	tk := task.New(10, "t", 1, tt, func(self *task.Task) {}, 0, nil)
	s.Spawn(tt, tk)

	waitFor(t, func() bool {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		for _, id := range hooks.died {
			if id == 10 {
				return true
			}
		}
		return false
	})
	require.Equal(t, 0, s.LiveTasks())

	s.Shutdown()
	s.Wait()

	waitFor(t, func() bool {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		return len(hooks.drained) == 1
	})
}
