package taskthread_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskrt/task"
	"taskrt/taskthread"
)

type fakeNotifier struct {
	mu       sync.Mutex
	died     []*task.Task
	exited   bool
}

func (f *fakeNotifier) TaskExited(tt *taskthread.TaskThread, t *task.Task) {
	f.mu.Lock()
	f.died = append(f.died, t)
	f.mu.Unlock()
}

func (f *fakeNotifier) ThreadExiting(tt *taskthread.TaskThread) {
	f.mu.Lock()
	f.exited = true
	f.mu.Unlock()
}

func (f *fakeNotifier) sawDeath(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.died {
		if t.ID == id {
			return true
		}
	}
	return false
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

func TestTaskThreadRunsNewbornTaskToCompletion(t *testing.T) {
	n := &fakeNotifier{}
	tt := taskthread.New(0, n, nil)

	var ran bool
	tk := task.New(1, "t", 0, tt, func(self *task.Task) { ran = true }, 0, nil)
	tt.Spawn(tk)

	go tt.Run()
	waitFor(t, func() bool { return n.sawDeath(1) })
	require.True(t, ran)

	tt.Shutdown()
	waitFor(t, func() bool { n.mu.Lock(); defer n.mu.Unlock(); return n.exited })
}

func TestTaskThreadListsPartitionRunningTasks(t *testing.T) {
	n := &fakeNotifier{}
	tt := taskthread.New(0, n, nil)

	tk := task.New(1, "t", 0, tt, func(self *task.Task) {
		var killed bool
		self.TryBlock(task.WaitPort, "cond", "waiting")
		self.Suspend(&killed)
	}, 0, nil)
	tt.Spawn(tk)
	go tt.Run()

	waitFor(t, func() bool { return tk.State() == task.Blocked })

	_, _, blocked, _ := tt.Lists()
	require.Len(t, blocked, 1)
	require.Same(t, tk, blocked[0])

	tk.Wakeup("cond")
	waitFor(t, func() bool { return n.sawDeath(1) })

	tt.Shutdown()
	waitFor(t, func() bool { n.mu.Lock(); defer n.mu.Unlock(); return n.exited })
}
