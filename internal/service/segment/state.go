// Package segment numbers the recognition connections of a session and
// tracks each one's lifecycle.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a segment.
type State int

const (
	StateOpen State = iota
	// StateDraining: handed off, late transcripts may still arrive.
	StateDraining
	StateClosed
	StateDropped
)

var stateNames = [...]string{"OPEN", "DRAINING", "CLOSED", "DROPPED"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// ErrSegmentClosed is returned when a transcript is recorded on a terminal segment.
var ErrSegmentClosed = errors.New("segment is closed")

// Lifecycle tracks one recognition connection: OPEN while it receives
// audio, DRAINING after handoff, then CLOSED or DROPPED.
type Lifecycle struct {
	mu        sync.RWMutex
	segmentID int64
	state     State
	partials  int
	finals    int
}

func NewLifecycle(segmentID int64) *Lifecycle {
	return &Lifecycle{
		segmentID: segmentID,
		state:     StateOpen,
	}
}

func (l *Lifecycle) SegmentID() int64 { return l.segmentID }

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsClosed reports CLOSED or DROPPED.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Counts returns how many partial and final transcripts were recorded.
func (l *Lifecycle) Counts() (partials, finals int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.partials, l.finals
}

// RecordTranscript counts a transcript attributed to this segment.
func (l *Lifecycle) RecordTranscript(isFinal bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrSegmentClosed
	}
	if isFinal {
		l.finals++
	} else {
		l.partials++
	}
	return nil
}

// Drain marks a handed-off segment. Only an OPEN segment can drain.
func (l *Lifecycle) Drain() bool {
	return l.transition(StateDraining, func(from State) bool { return from == StateOpen })
}

// Close reports whether the segment moved to CLOSED; terminal segments
// stay where they are.
func (l *Lifecycle) Close() bool {
	return l.transition(StateClosed, notTerminal)
}

// Drop marks a segment whose stream failed or was ended by the server.
func (l *Lifecycle) Drop() bool {
	return l.transition(StateDropped, notTerminal)
}

func notTerminal(s State) bool { return !s.IsTerminal() }

func (l *Lifecycle) transition(to State, allowed func(State) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !allowed(l.state) {
		return false
	}
	l.state = to
	return true
}
