// Package permission holds the process-wide PermissionMode, the persisted
// allow-list of approved tool calls, and shell command classification.
package permission

import (
	"fmt"
	"sync/atomic"
)

// Mode controls how much tool confirmation is required.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeAcceptEdits Mode = "accept-edits"
	ModePlan        Mode = "plan"
	ModeBypass      Mode = "bypass"
)

// Modes lists every mode in cycling order.
var Modes = []Mode{ModeDefault, ModeAcceptEdits, ModePlan, ModeBypass}

// ParseMode validates s as a Mode. The empty string means ModeDefault.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeDefault, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown permission mode %q (want one of default, accept-edits, plan, bypass)", s)
}

// Next returns the mode after m in cycling order.
func (m Mode) Next() Mode {
	for i, candidate := range Modes {
		if candidate == m {
			return Modes[(i+1)%len(Modes)]
		}
	}
	return ModeDefault
}

// Settings is an immutable snapshot of process-wide run configuration.
type Settings struct {
	Mode          Mode   `json:"mode"`
	Model         string `json:"model"`
	ContextWindow int    `json:"context_window"`
}

// Live publishes the current Settings. Readers take a snapshot per node;
// writers build a new snapshot and swap it in, so a change applies from
// the next node onward and never rewrites one already running.
type Live struct {
	p atomic.Pointer[Settings]
}

// NewLive creates a Live holder starting at s.
func NewLive(s Settings) *Live {
	if s.Mode == "" {
		s.Mode = ModeDefault
	}
	l := &Live{}
	l.p.Store(&s)
	return l
}

// Snapshot returns the current settings.
func (l *Live) Snapshot() Settings {
	return *l.p.Load()
}

// Update atomically replaces the settings with fn(current) and returns the
// new value.
func (l *Live) Update(fn func(Settings) Settings) Settings {
	for {
		old := l.p.Load()
		next := fn(*old)
		if l.p.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// SetMode switches the permission mode.
func (l *Live) SetMode(m Mode) Settings {
	return l.Update(func(s Settings) Settings {
		s.Mode = m
		return s
	})
}

// SetModel switches the active model and its context window.
func (l *Live) SetModel(name string, contextWindow int) Settings {
	return l.Update(func(s Settings) Settings {
		s.Model = name
		s.ContextWindow = contextWindow
		return s
	})
}
