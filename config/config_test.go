package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskrt/config"
	"taskrt/internal/rtlog"
)

func TestDefaultDisablesLogging(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, uint64(config.DefaultMinStackSize), cfg.MinStackSize)
	require.Equal(t, rtlog.All, cfg.LogMask)
	require.False(t, cfg.LogOn)
}

func TestFromEnvHonorsOverrides(t *testing.T) {
	t.Setenv("TASKRT_MIN_STACK_SIZE", "65536")
	t.Setenv("TASKRT_SCHED_THREADS", "3")
	t.Setenv("TASKRT_LOG_MASK", "task,comm")
	t.Setenv("TASKRT_LOG_ON", "false")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	require.Equal(t, uint64(65536), cfg.MinStackSize)
	require.Equal(t, 3, cfg.SchedThreads)
	require.Equal(t, rtlog.Task|rtlog.Comm, cfg.LogMask)
	require.False(t, cfg.LogOn)
}

func TestFromEnvIgnoresGarbageOverrides(t *testing.T) {
	t.Setenv("TASKRT_MIN_STACK_SIZE", "not-a-number")
	t.Setenv("TASKRT_SCHED_THREADS", "0")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	require.Equal(t, uint64(config.DefaultMinStackSize), cfg.MinStackSize)
	require.Greater(t, cfg.SchedThreads, 0)
}
