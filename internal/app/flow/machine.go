// Package flow provides the per-call state machine and response scripts.
package flow

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/shahabrez/Callroulette/internal/domain/call"
)

// ErrInvalidTransition is returned when an event is not legal for the
// session's current state. Fatal for the request that delivered it.
var ErrInvalidTransition = errors.New("invalid transition")

// Machine owns the transition tables and entry side effects. Transitions
// are looked up in the per-state table first; events not defined there
// fall through to the wildcard table, which holds hang_up only.
type Machine struct {
	transitions map[call.State]map[call.Event]call.State
	wildcard    map[call.Event]call.State
	now         func() time.Time
}

// New creates a machine with the static transition tables.
func New() *Machine {
	return NewWithClock(time.Now)
}

// NewWithClock creates a machine using the given clock for entry side
// effects. Used in tests.
func NewWithClock(now func() time.Time) *Machine {
	return &Machine{
		transitions: map[call.State]map[call.Event]call.State{
			call.StateInitial: {
				call.EventIncomingCall: call.StateGreeting,
			},
			call.StateGreeting: {
				call.EventGreeted: call.StateWaiting,
			},
			call.StateWaiting: {
				call.EventPutInConference: call.StateInConference,
				call.EventTimeOut:         call.StateTimedOut,
			},
			call.StateInConference: {
				call.EventCleanup: call.StateGreeting,
			},
		},
		wildcard: map[call.Event]call.State{
			call.EventHangUp: call.StateEnded,
		},
		now: now,
	}
}

// Next resolves the state the event leads to from the given state.
// The per-state table takes precedence over the wildcard table.
func (m *Machine) Next(state call.State, ev call.Event) (call.State, error) {
	if evs, ok := m.transitions[state]; ok {
		if next, ok := evs[ev]; ok {
			return next, nil
		}
	}
	if next, ok := m.wildcard[ev]; ok {
		return next, nil
	}
	return "", errors.Wrapf(ErrInvalidTransition, "event %q in state %q", ev, state)
}

// Arrived reports whether the state is one the event leads into, i.e.
// the event's transition has already been applied. The matchmaker
// transitions a session and then redirects the live call at the same
// event endpoint; the redirect arrival must render the current state
// rather than fail as an invalid transition.
func (m *Machine) Arrived(state call.State, ev call.Event) bool {
	for _, evs := range m.transitions {
		if next, ok := evs[ev]; ok && next == state {
			return true
		}
	}
	if next, ok := m.wildcard[ev]; ok && next == state {
		return true
	}
	return false
}

// Apply transitions the session and fires the entry side effects for
// the new state. The session is mutated in place; on error it is left
// untouched.
func (m *Machine) Apply(s *call.Session, ev call.Event) (call.State, error) {
	next, err := m.Next(s.State, ev)
	if err != nil {
		return "", err
	}

	if ev == call.EventPutInConference && s.RoomID == "" {
		return "", errors.Wrapf(ErrInvalidTransition, "session %s has no room assigned", s.ID)
	}

	prev := s.State
	s.State = next

	// Room ids exist only while in conference.
	if prev == call.StateInConference && next != call.StateInConference {
		s.RoomID = ""
	}

	switch next {
	case call.StateWaiting:
		now := m.now()
		s.WaitingAt = &now
	case call.StateEnded:
		now := m.now()
		s.EndedAt = &now
	}

	return next, nil
}
