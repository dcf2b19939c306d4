// Package store provides durable storage for call sessions.
package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/shahabrez/Callroulette/internal/domain/call"
)

var (
	// ErrNotFound is returned when no session exists for the given id.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyExists is returned when creating a session whose id is taken.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrStaleWrite is returned when a save loses an optimistic
	// concurrency check. Callers retry once against fresh state before
	// surfacing the error.
	ErrStaleWrite = errors.New("stale write: session modified concurrently")
)

// Repository is the record store for call sessions. Save performs an
// atomic compare-and-save keyed on Session.Version: it succeeds only if
// the stored version matches the one the session was loaded with, and
// increments the version on success.
type Repository interface {
	Create(ctx context.Context, s *call.Session) error
	Get(ctx context.Context, id string) (*call.Session, error)
	Save(ctx context.Context, s *call.Session) error
	ListByState(ctx context.Context, state call.State) ([]*call.Session, error)
}
