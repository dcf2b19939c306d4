package call

// State represents a call session lifecycle state.
type State string

const (
	StateInitial      State = "initial"       // Just created, no signaling seen yet
	StateGreeting     State = "greeting"      // Caller is being greeted
	StateWaiting      State = "waiting"       // In the matchmaking pool
	StateInConference State = "in_conference" // Bridged into a two-party room
	StateEnded        State = "ended"         // Call disconnected
	StateTimedOut     State = "timed_out"     // Waited too long without a match
)

// Terminal reports whether the state accepts no further events other
// than the wildcard hang-up.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateTimedOut
}

// Event represents a telephony signaling event delivered to a session.
type Event string

const (
	EventIncomingCall    Event = "incoming_call"
	EventGreeted         Event = "greeted"
	EventPutInConference Event = "put_in_conference"
	EventTimeOut         Event = "time_out"
	EventCleanup         Event = "cleanup"
	EventHangUp          Event = "hang_up"
)

// ParseEvent returns the Event for a wire-level event name.
// Unknown names are returned as-is; the state machine rejects them.
func ParseEvent(name string) Event {
	return Event(name)
}
