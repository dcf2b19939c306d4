// Package call provides the call session domain entity.
package call

import "time"

// Session represents one tracked phone call and its lifecycle state.
type Session struct {
	ID             string     // Opaque unique identifier (carrier call SID)
	From           string     // Caller identity (phone number)
	State          State      // Current lifecycle state
	RoomID         string     // Conference room id, set only while in_conference
	PartnerHistory []string   // Caller identities ever connected, append-only
	City           string     // Caller city (from carrier metadata)
	Region         string     // Caller state/region
	Country        string     // Caller country
	CreatedAt      time.Time  // Creation time
	WaitingAt      *time.Time // Last entry into waiting
	EndedAt        *time.Time // Disconnect time
	Version        int64      // Optimistic concurrency version, managed by the store
}

// NewSession creates a session in the initial state.
func NewSession(id, from string) *Session {
	return &Session{
		ID:             id,
		From:           from,
		State:          StateInitial,
		PartnerHistory: make([]string, 0),
		CreatedAt:      time.Now(),
	}
}

// WaitTime returns how long the session has been waiting for a match,
// measured from the last entry into waiting, or from creation if the
// session never entered waiting.
func (s *Session) WaitTime(now time.Time) time.Duration {
	since := s.CreatedAt
	if s.WaitingAt != nil {
		since = *s.WaitingAt
	}
	return now.Sub(since)
}

// HasMet reports whether the given caller identity is already in the
// partner history.
func (s *Session) HasMet(identity string) bool {
	for _, p := range s.PartnerHistory {
		if p == identity {
			return true
		}
	}
	return false
}

// RecordPartner appends a caller identity to the partner history.
// The history never shrinks and never contains the session's own identity.
func (s *Session) RecordPartner(identity string) {
	if identity == "" || identity == s.From {
		return
	}
	s.PartnerHistory = append(s.PartnerHistory, identity)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.PartnerHistory = make([]string, len(s.PartnerHistory))
	copy(c.PartnerHistory, s.PartnerHistory)
	if s.WaitingAt != nil {
		t := *s.WaitingAt
		c.WaitingAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
