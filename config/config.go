// Package config reads the small set of environment-derived knobs the
// kernel takes at init: minimum task stack size, the root scheduler's
// thread count, and the log filter mask/on-off switch.
package config

import (
	"os"
	"runtime"
	"strconv"

	automemlimit "github.com/KimMachineGun/automemlimit/memlimit"
	"taskrt/internal/rtlog"

	"go.uber.org/automaxprocs/maxprocs"
)

const (
	envMinStackSize = "TASKRT_MIN_STACK_SIZE"
	envSchedThreads = "TASKRT_SCHED_THREADS"
	envLogMask      = "TASKRT_LOG_MASK"
	envLogOn        = "TASKRT_LOG_ON"

	// DefaultMinStackSize is the default task stack floor; smaller
	// requested stacks are rounded up to this.
	DefaultMinStackSize = 2 * 1024 * 1024
)

// Config holds the resolved runtime knobs.
type Config struct {
	MinStackSize uint64
	SchedThreads int
	LogMask      rtlog.Category
	LogOn        bool
}

// FromEnv resolves Config from the environment, applying the same
// GOMAXPROCS/GOMEMLIMIT container-awareness any long-running Go service
// in this codebase's pack applies at entry: a container-bounded process
// that ignores cgroup limits over- or under-subscribes its task-thread
// count and risks OOM-killing itself instead of failing a single task.
func FromEnv() (Config, error) {
	undoMaxprocs, err := maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))
	if err != nil {
		return Config{}, err
	}
	defer undoMaxprocs()

	// A missing cgroup (e.g. running outside a container) is not fatal:
	// GOMEMLIMIT just stays at its Go default.
	automemlimit.SetGoMemLimitWithEnv()

	cfg := Config{
		MinStackSize: DefaultMinStackSize,
		SchedThreads: runtime.GOMAXPROCS(0),
		LogMask:      rtlog.All,
		LogOn:        true,
	}

	if v := os.Getenv(envMinStackSize); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.MinStackSize = n
		}
	}
	if v := os.Getenv(envSchedThreads); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SchedThreads = n
		}
	}
	if v := os.Getenv(envLogMask); v != "" {
		cfg.LogMask = rtlog.ParseMask(v)
	}
	if v := os.Getenv(envLogOn); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogOn = b
		}
	}

	return cfg, nil
}

// Default returns the Config FromEnv would resolve to with no
// environment variables set and no automatic GOMAXPROCS/GOMEMLIMIT
// tuning, except that LogOn is false here (FromEnv defaults it to
// true) — useful for tests and embedders that manage those knobs
// themselves.
func Default() Config {
	return Config{
		MinStackSize: DefaultMinStackSize,
		SchedThreads: runtime.GOMAXPROCS(0),
		LogMask:      rtlog.All,
		LogOn:        false,
	}
}
