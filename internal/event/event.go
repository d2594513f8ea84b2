// Package event provides a payload-free signal used between the background
// worker and the consumer thread. The payload is always "go look at the
// shared state", so a full message queue is unnecessary.
package event

import (
	"context"
	"sync"
)

// State is the tri-state of an Event.
type State int

const (
	// Unset means the event has not been signaled since the last Clear.
	Unset State = iota
	// Set means the event was signaled and nobody has observed it yet.
	Set
	// Observed means the event was signaled and has been seen at least once.
	Observed
)

func (s State) String() string {
	switch s {
	case Set:
		return "set"
	case Observed:
		return "observed"
	default:
		return "unset"
	}
}

// Event is a level-triggered signal. The zero value is not usable; call New.
type Event struct {
	mu    sync.Mutex
	state State
	// fired is closed when the event moves out of Unset and replaced on Clear.
	fired chan struct{}
}

// New returns an unset Event.
func New() *Event {
	return &Event{fired: make(chan struct{})}
}

// Signal sets the event. Signaling an already-set event does nothing.
func (e *Event) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Unset {
		return
	}
	e.state = Set
	close(e.fired)
}

// Peek reports whether the event is signaled, without blocking and without
// clearing it. The first positive Peek moves the event to Observed.
func (e *Event) Peek() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Set:
		e.state = Observed
		return true
	case Observed:
		return true
	}
	return false
}

// Wait blocks until the event is signaled or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	e.mu.Lock()
	fired := e.fired
	e.mu.Unlock()

	select {
	case <-fired:
		e.mu.Lock()
		if e.state == Set {
			e.state = Observed
		}
		e.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear resets the event to Unset.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Unset {
		return
	}
	e.state = Unset
	e.fired = make(chan struct{})
}

// State returns the current state.
func (e *Event) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
