// Package rtlog provides the runtime's category-filtered structured
// logger. It mirrors the old log_mask bitset: every call site names the
// subsystem it belongs to, and the logger drops the write entirely if
// that category isn't enabled, before zerolog ever formats a line.
package rtlog

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Category is one bit of the log_mask knob from the runtime config.
type Category uint32

const (
	Err Category = 1 << iota
	Mem
	Comm
	Task
	Dom
	Ulog
	Trace
	Dwarf
	Cache
	Upcall
	Timer
	GC
	Stdlib
	Special
	Kern
	BT

	None Category = 0
	All  Category = 1<<iota - 1
)

var names = map[string]Category{
	"err": Err, "mem": Mem, "comm": Comm, "task": Task, "dom": Dom,
	"ulog": Ulog, "trace": Trace, "dwarf": Dwarf, "cache": Cache,
	"upcall": Upcall, "timer": Timer, "gc": GC, "stdlib": Stdlib,
	"special": Special, "kern": Kern, "bt": BT,
}

// ParseMask turns a comma-separated list of category names (or the
// sentinels "all"/"none") into a Category bitset.
func ParseMask(s string) Category {
	switch s {
	case "", "none":
		return None
	case "all":
		return All
	}
	var mask Category
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				if c, ok := names[s[start:i]]; ok {
					mask |= c
				}
			}
			start = i + 1
		}
	}
	return mask
}

// Logger filters zerolog events by Category before they're built,
// so a disabled category never pays formatting cost.
type Logger struct {
	base *zerolog.Logger
	mask atomic.Uint32
	on   atomic.Bool
}

// New creates a Logger writing to w (os.Stderr if w is nil).
func New(w io.Writer, mask Category, enabled bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	l := &Logger{base: &zl}
	l.mask.Store(uint32(mask))
	l.on.Store(enabled)
	return l
}

// SetEnabled toggles logging globally (the log_on knob).
func (l *Logger) SetEnabled(on bool) { l.on.Store(on) }

// SetMask replaces the active category bitset (the log_mask knob).
func (l *Logger) SetMask(mask Category) { l.mask.Store(uint32(mask)) }

// Enabled reports whether a given category would currently be emitted.
func (l *Logger) Enabled(cat Category) bool {
	return l.on.Load() && Category(l.mask.Load())&cat != 0
}

// Event starts a log line for cat at the given zerolog level. Returns
// a no-op *zerolog.Event (zerolog's own convention) when the category
// is disabled, so call sites can chain unconditionally:
//
//	log.Event(rtlog.Task, zerolog.DebugLevel).Str("name", name).Msg("spawned")
func (l *Logger) Event(cat Category, level zerolog.Level) *zerolog.Event {
	if !l.Enabled(cat) {
		return l.base.WithLevel(zerolog.Disabled) // no-op event; every chained call and Msg is free
	}
	return l.base.WithLevel(level).Str("category", catName(cat))
}

func catName(cat Category) string {
	for name, bit := range names {
		if bit == cat {
			return name
		}
	}
	return "multi"
}

// Nop returns a Logger with every category disabled, useful in tests.
func Nop() *Logger {
	return New(io.Discard, None, false)
}
