package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/shahabrez/Callroulette/internal/domain/call"
)

// PostgresStore is a Repository backed by PostgreSQL. Optimistic
// concurrency uses a version column checked in the UPDATE predicate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool for the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the sessions table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS call_sessions (
	id              TEXT PRIMARY KEY,
	caller          TEXT NOT NULL,
	state           TEXT NOT NULL,
	room_id         TEXT NOT NULL DEFAULT '',
	partner_history TEXT[] NOT NULL DEFAULT '{}',
	city            TEXT NOT NULL DEFAULT '',
	region          TEXT NOT NULL DEFAULT '',
	country         TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	waiting_at      TIMESTAMPTZ,
	ended_at        TIMESTAMPTZ,
	version         BIGINT NOT NULL
)`)
	return errors.Wrap(err, "failed to create schema")
}

// Close closes the underlying connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// Create inserts a new session row with version 1.
func (p *PostgresStore) Create(ctx context.Context, s *call.Session) error {
	s.Version = 1
	_, err := p.db.ExecContext(ctx, `
INSERT INTO call_sessions
	(id, caller, state, room_id, partner_history, city, region, country, created_at, waiting_at, ended_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.From, string(s.State), s.RoomID, pq.Array(s.PartnerHistory),
		s.City, s.Region, s.Country, s.CreatedAt, s.WaitingAt, s.EndedAt, s.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return errors.Wrapf(ErrAlreadyExists, "id %s", s.ID)
		}
		return errors.Wrap(err, "failed to insert session")
	}
	return nil
}

// Get returns the session with the given id.
func (p *PostgresStore) Get(ctx context.Context, id string) (*call.Session, error) {
	row := p.db.QueryRowContext(ctx, `
SELECT id, caller, state, room_id, partner_history, city, region, country, created_at, waiting_at, ended_at, version
FROM call_sessions
WHERE id = $1`, id)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return s, err
}

// Save updates the session iff the stored version matches. Zero rows
// affected means a concurrent writer won: ErrStaleWrite.
func (p *PostgresStore) Save(ctx context.Context, s *call.Session) error {
	res, err := p.db.ExecContext(ctx, `
UPDATE call_sessions
SET caller = $2, state = $3, room_id = $4, partner_history = $5,
    city = $6, region = $7, country = $8, waiting_at = $9, ended_at = $10,
    version = version + 1
WHERE id = $1 AND version = $11`,
		s.ID, s.From, string(s.State), s.RoomID, pq.Array(s.PartnerHistory),
		s.City, s.Region, s.Country, s.WaitingAt, s.EndedAt, s.Version,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		if _, getErr := p.Get(ctx, s.ID); errors.Is(getErr, ErrNotFound) {
			return getErr
		}
		return errors.Wrapf(ErrStaleWrite, "id %s: version %d", s.ID, s.Version)
	}
	s.Version++
	return nil
}

// ListByState returns all sessions in the given state.
func (p *PostgresStore) ListByState(ctx context.Context, state call.State) ([]*call.Session, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, caller, state, room_id, partner_history, city, region, country, created_at, waiting_at, ended_at, version
FROM call_sessions
WHERE state = $1`, string(state))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query sessions")
	}
	defer rows.Close()

	var sessions []*call.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate sessions")
	}
	return sessions, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*call.Session, error) {
	var (
		s       call.Session
		state   string
		history pq.StringArray
		waiting sql.NullTime
		ended   sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.From, &state, &s.RoomID, &history,
		&s.City, &s.Region, &s.Country, &s.CreatedAt, &waiting, &ended, &s.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan session")
	}
	s.State = call.State(state)
	s.PartnerHistory = []string(history)
	if waiting.Valid {
		t := waiting.Time
		s.WaitingAt = &t
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}
