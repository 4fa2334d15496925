package sim

import (
	"errors"
	"sync"

	"atmcs-sim/internal/mount"
)

var (
	// ErrQueueFull is returned by Submit when the inbox holds QueueSize
	// commands that have not been drained yet.
	ErrQueueFull = errors.New("command queue full")
	// ErrSuperseded is the result of a track target replaced by a later
	// one before the tick that would have applied it.
	ErrSuperseded = errors.New("track target superseded")
)

type submission struct {
	cmd  mount.Command
	done chan error
}

func (s submission) resolve(err error) {
	if s.done != nil {
		s.done <- err
	}
}

// Inbox is the bounded command queue drained at the start of every tick.
type Inbox struct {
	mu    sync.Mutex
	items []submission
	size  int
}

// NewInbox creates an inbox holding at most size commands.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 1
	}
	return &Inbox{size: size}
}

// Push queues cmd. The returned channel receives exactly one result once
// the command was applied or dropped.
func (in *Inbox) Push(cmd mount.Command) (<-chan error, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.items) >= in.size {
		return nil, ErrQueueFull
	}
	done := make(chan error, 1)
	in.items = append(in.items, submission{cmd: cmd, done: done})
	return done, nil
}

// Len returns the number of queued commands.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// Drain empties the inbox. Of several queued track targets only the last
// one is kept, in its queue position; the others are returned as
// superseded. The remaining commands keep their submission order.
func (in *Inbox) Drain() (kept, superseded []submission) {
	in.mu.Lock()
	items := in.items
	in.items = nil
	in.mu.Unlock()

	last := -1
	for i, s := range items {
		if s.cmd.Kind == mount.CmdTrackTarget {
			last = i
		}
	}
	for i, s := range items {
		if s.cmd.Kind == mount.CmdTrackTarget && i != last {
			superseded = append(superseded, s)
			continue
		}
		kept = append(kept, s)
	}
	return kept, superseded
}
