package flow

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/shahabrez/Callroulette/internal/domain/call"
	"github.com/shahabrez/Callroulette/internal/infra/metrics"
	"github.com/shahabrez/Callroulette/internal/infra/store"
)

// Service handles inbound signaling events for a session: it serializes
// per-session mutation, applies the transition, persists the result and
// returns the response script for the new state.
type Service struct {
	store   store.Repository
	machine *Machine
	scripts *Scripter
	locks   *SessionLocks
}

// NewService creates an event service. The lock set must be shared with
// the matchmaker.
func NewService(repo store.Repository, machine *Machine, scripts *Scripter, locks *SessionLocks) *Service {
	return &Service{
		store:   repo,
		machine: machine,
		scripts: scripts,
		locks:   locks,
	}
}

// CreateSession registers a newly reported inbound call.
func (sv *Service) CreateSession(ctx context.Context, s *call.Session) error {
	return sv.store.Create(ctx, s)
}

// GetSession returns the session with the given id.
func (sv *Service) GetSession(ctx context.Context, id string) (*call.Session, error) {
	return sv.store.Get(ctx, id)
}

// ListByState returns all sessions in the given state.
func (sv *Service) ListByState(ctx context.Context, state call.State) ([]*call.Session, error) {
	return sv.store.ListByState(ctx, state)
}

// FailureScript returns the neutral script for fatal errors.
func (sv *Service) FailureScript() Script {
	return sv.scripts.FailureScript()
}

// HandleEvent applies the event to the session and returns the script
// for the resulting state. A save lost to a concurrent writer is
// retried once against fresh state before the error is surfaced.
func (sv *Service) HandleEvent(ctx context.Context, sessionID string, ev call.Event) (Script, error) {
	unlock := sv.locks.Lock(sessionID)
	defer unlock()

	script, err := sv.apply(ctx, sessionID, ev)
	if errors.Is(err, store.ErrStaleWrite) {
		zlog.Warn().Str("session_id", sessionID).Str("event", string(ev)).
			Msg("stale write, retrying against fresh state")
		script, err = sv.apply(ctx, sessionID, ev)
	}
	return script, err
}

func (sv *Service) apply(ctx context.Context, sessionID string, ev call.Event) (Script, error) {
	s, err := sv.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A redirect arrival (or carrier retry) delivers an event whose
	// transition has already been applied. Render the current state.
	if sv.machine.Arrived(s.State, ev) {
		zlog.Debug().Str("session_id", sessionID).Str("event", string(ev)).
			Str("state", string(s.State)).Msg("event already applied, rendering current state")
		return sv.scripts.ScriptFor(ctx, s), nil
	}

	prev := s.State
	next, err := sv.machine.Apply(s, ev)
	if err != nil {
		return nil, err
	}

	if err := sv.store.Save(ctx, s); err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(prev), string(next)).Inc()
	zlog.Info().Str("session_id", sessionID).Str("event", string(ev)).
		Str("from", string(prev)).Str("to", string(next)).Msg("transition applied")

	return sv.scripts.ScriptFor(ctx, s), nil
}
