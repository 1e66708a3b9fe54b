package task_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskrt/activation"
	"taskrt/task"
)

// fakeOwner is a minimal task.Owner good enough to drive a single task
// through its lifecycle without a real task-thread loop.
type fakeOwner struct {
	blocked   []*task.Task
	requeued  chan *task.Task
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{requeued: make(chan *task.Task, 8)}
}

func (o *fakeOwner) CommitBlock(t *task.Task) { o.blocked = append(o.blocked, t) }
func (o *fakeOwner) Requeue(t *task.Task)     { o.requeued <- t }

func TestTaskLifecycleRunToCompletion(t *testing.T) {
	owner := newFakeOwner()
	ran := false
	tk := task.New(1, "t", 0, owner, func(self *task.Task) {
		ran = true
	}, 0, nil)

	require.Equal(t, task.Newborn, tk.State())
	tk.Claim(activation.NewPool())
	tk.Start()
	require.Equal(t, task.Running, tk.State())

	tk.Activate()
	require.True(t, tk.Done())
	require.Equal(t, task.Dead, tk.State())
	require.True(t, ran)
}

func TestTaskYieldAndResume(t *testing.T) {
	owner := newFakeOwner()
	reached := 0
	tk := task.New(1, "t", 0, owner, func(self *task.Task) {
		reached++
		var killed bool
		self.Yield(&killed)
		reached++
	}, 0, nil)
	tk.Claim(activation.NewPool())
	tk.Start()

	tk.Activate() // runs to the Yield
	require.Equal(t, 1, reached)
	require.False(t, tk.Done())

	tk.Activate() // resumes past the Yield to completion
	require.Equal(t, 2, reached)
	require.True(t, tk.Done())
}

func TestTaskBlockAndWakeupRequeues(t *testing.T) {
	owner := newFakeOwner()
	cond := "some-condition"
	unblocked := false
	tk := task.New(1, "t", 0, owner, func(self *task.Task) {
		ok := self.TryBlock(task.WaitPort, cond, "waiting")
		require.True(t, ok)
		var killed bool
		self.Suspend(&killed)
		unblocked = !killed
	}, 0, nil)
	tk.Claim(activation.NewPool())
	tk.Start()
	tk.Activate()

	require.Equal(t, task.Blocked, tk.State())
	require.True(t, tk.BlockedOn(cond))

	tk.Wakeup(cond)
	require.Equal(t, task.Running, tk.State())
	select {
	case got := <-owner.requeued:
		require.Same(t, tk, got)
	case <-time.After(time.Second):
		t.Fatal("Wakeup never called owner.Requeue")
	}

	tk.Activate()
	require.True(t, tk.Done())
	require.True(t, unblocked)
}

func TestWakeupOnMismatchedConditionPanics(t *testing.T) {
	owner := newFakeOwner()
	tk := task.New(1, "t", 0, owner, func(self *task.Task) {
		ok := self.TryBlock(task.WaitPort, "real-cond", "waiting")
		require.True(t, ok)
		var killed bool
		self.Suspend(&killed)
	}, 0, nil)
	tk.Claim(activation.NewPool())
	tk.Start()
	tk.Activate()

	require.Panics(t, func() { tk.Wakeup("wrong-cond") })
}

func TestKillWhileBlockedForcesRequeueAndObservedOnResume(t *testing.T) {
	owner := newFakeOwner()
	var sawKilled bool
	tk := task.New(1, "t", 0, owner, func(self *task.Task) {
		ok := self.TryBlock(task.WaitPort, "cond", "waiting")
		require.True(t, ok)
		var killed bool
		self.Suspend(&killed)
		sawKilled = killed
	}, 0, nil)
	tk.Claim(activation.NewPool())
	tk.Start()
	tk.Activate()
	require.Equal(t, task.Blocked, tk.State())

	tk.Kill()
	require.Equal(t, task.Running, tk.State())
	<-owner.requeued

	tk.Activate()
	require.True(t, tk.Done())
	require.True(t, sawKilled)
}

func TestKillBeforeBlockSkipsSuspendEntirely(t *testing.T) {
	owner := newFakeOwner()
	reachedPastBlock := false
	tk := task.New(1, "t", 0, owner, func(self *task.Task) {
		self.Kill()
		ok := self.TryBlock(task.WaitPort, "cond", "waiting")
		require.False(t, ok)
		reachedPastBlock = true
	}, 0, nil)
	tk.Claim(activation.NewPool())
	tk.Start()
	tk.Activate()

	require.True(t, tk.Done())
	require.True(t, reachedPastBlock)
	require.Equal(t, task.Dead, tk.State())
}

func TestSupervisionLink(t *testing.T) {
	owner := newFakeOwner()
	tk := task.New(2, "child", 0, owner, func(self *task.Task) {}, 0, nil)
	tk.SetSupervisor(1)

	id, ok := tk.SupervisorID()
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	tk.Unsupervise()
	_, ok = tk.SupervisorID()
	require.False(t, ok)
}

func TestTaskFatalPanicRecordsExitErr(t *testing.T) {
	owner := newFakeOwner()
	tk := task.New(1, "t", 0, owner, func(self *task.Task) {
		panic("boom")
	}, 0, nil)
	tk.Claim(activation.NewPool())
	tk.Start()
	tk.Activate()

	require.True(t, tk.Done())
	require.Equal(t, task.Dead, tk.State())
	require.Error(t, tk.ExitErr())
}
