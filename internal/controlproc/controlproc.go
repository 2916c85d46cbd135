// Package controlproc implements the long-running, interactively-stoppable
// process loop shared by the upload and download daemons: a one-way
// lifecycle state machine driven by an explicit command channel, so the
// same loop works whether commands arrive from a terminal, a pipe, or a
// test.
package controlproc

import (
	"sync"
	"time"

	"github.com/openmsi-go/chunkstream/internal/logging"
)

// State is a process's position in its one-way lifecycle:
// Created -> Running -> Stopping -> Stopped. There is no path backward.
type State int

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Command is a single interactive instruction delivered on a
// ControlledProcess's command channel.
type Command int

const (
	// CommandQuit ("q"/"quit") requests a graceful shutdown.
	CommandQuit Command = iota
	// CommandCheck ("c"/"check") requests an immediate on-demand status
	// check, without otherwise altering the run loop's cadence.
	CommandCheck
)

// ParseCommand maps the single-letter and full-word spellings accepted on
// the interactive control channel to a Command. ok is false for anything
// else, which callers should ignore rather than treat as fatal input.
func ParseCommand(s string) (cmd Command, ok bool) {
	switch s {
	case "q", "quit":
		return CommandQuit, true
	case "c", "check":
		return CommandCheck, true
	default:
		return 0, false
	}
}

// Hooks are the behaviors a concrete process plugs into the shared control
// loop. OnCheck runs synchronously whenever a check command arrives or
// (when UpdateInterval is positive) on every liveness tick.
type Hooks struct {
	// OnCheck is invoked for "check" commands and periodic liveness ticks.
	// It returns an error only for conditions that should stop the process.
	OnCheck func() error
	// OnStop is invoked exactly once, after the last iteration, to release
	// resources. It is always invoked, even if the process stops due to an
	// error or a quit command.
	OnStop func()
}

// Base holds the lifecycle state and command channel shared by both the
// single-thread and multi-thread ControlledProcess variants. It is meant to
// be embedded, not used standalone.
type Base struct {
	mu    sync.Mutex
	state State

	commands chan Command
	hooks    Hooks
	log      *logging.Logger

	// UpdateInterval controls how often a "still alive" liveness line is
	// logged; -1 disables it entirely.
	UpdateInterval time.Duration
}

// NewBase constructs a Base in the Created state. log may be nil.
func NewBase(hooks Hooks, updateInterval time.Duration, log *logging.Logger) *Base {
	if log == nil {
		log = logging.Default("controlproc")
	}
	return &Base{
		state:          Created,
		commands:       make(chan Command, 8),
		hooks:          hooks,
		log:            log,
		UpdateInterval: updateInterval,
	}
}

// State reports the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Send delivers a command to a running process's control channel. It is
// safe to call from any goroutine, including from a CLI's stdin reader.
func (b *Base) Send(cmd Command) {
	select {
	case b.commands <- cmd:
	default:
		b.log.Warn("control command channel full, dropping command")
	}
}

// Alive reports whether the process has not yet reached Stopped. This
// flag moves one way: once false, it never becomes true again.
func (b *Base) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != Stopped
}

func (b *Base) handleCommand(cmd Command) (stop bool) {
	switch cmd {
	case CommandQuit:
		b.log.Info("received quit command, shutting down")
		return true
	case CommandCheck:
		if b.hooks.OnCheck != nil {
			if err := b.hooks.OnCheck(); err != nil {
				b.log.Error("check failed: %v", err)
				return true
			}
		}
	}
	return false
}

func (b *Base) finish() {
	b.setState(Stopping)
	if b.hooks.OnStop != nil {
		b.hooks.OnStop()
	}
	b.setState(Stopped)
}
