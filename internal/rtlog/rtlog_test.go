package rtlog_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"taskrt/internal/rtlog"
)

func TestParseMaskCombinesCategories(t *testing.T) {
	require.Equal(t, rtlog.None, rtlog.ParseMask(""))
	require.Equal(t, rtlog.None, rtlog.ParseMask("none"))
	require.Equal(t, rtlog.All, rtlog.ParseMask("all"))
	require.Equal(t, rtlog.Task|rtlog.Comm, rtlog.ParseMask("task,comm"))
	require.Equal(t, rtlog.Task, rtlog.ParseMask("task,bogus"))
}

func TestEventDropsDisabledCategory(t *testing.T) {
	var buf bytes.Buffer
	log := rtlog.New(&buf, rtlog.Task, true)

	log.Event(rtlog.Mem, zerolog.InfoLevel).Str("x", "y").Msg("should not appear")
	require.Empty(t, buf.Bytes())

	log.Event(rtlog.Task, zerolog.InfoLevel).Msg("spawned")
	require.Contains(t, buf.String(), "spawned")
}

func TestSetEnabledTogglesGlobally(t *testing.T) {
	var buf bytes.Buffer
	log := rtlog.New(&buf, rtlog.All, true)
	require.True(t, log.Enabled(rtlog.Task))

	log.SetEnabled(false)
	require.False(t, log.Enabled(rtlog.Task))

	log.Event(rtlog.Task, zerolog.InfoLevel).Msg("silenced")
	require.Empty(t, buf.Bytes())
}
