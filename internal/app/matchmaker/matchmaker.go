// Package matchmaker pairs waiting sessions into conference rooms.
package matchmaker

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/shahabrez/Callroulette/internal/app/flow"
	"github.com/shahabrez/Callroulette/internal/domain/call"
	"github.com/shahabrez/Callroulette/internal/domain/conference"
	"github.com/shahabrez/Callroulette/internal/infra/metrics"
	"github.com/shahabrez/Callroulette/internal/infra/store"
)

// ErrPassOverrun is returned when a pass exceeds its sanity threshold
// and is aborted to avoid starving the pool lock.
var ErrPassOverrun = errors.New("matchmaker pass exceeded sanity threshold")

// Gateway steers already-connected calls toward a flow event endpoint.
// Redirects are asynchronous; failures are logged, not propagated.
type Gateway interface {
	Redirect(ctx context.Context, sessionID string, ev call.Event) error
}

// HistoryKey derives the anti-repeat identity for a session. The
// default keys off the caller's phone number, so "never reconnect" is
// scoped per physical caller rather than per call session.
type HistoryKey func(s *call.Session) string

// Config configures the matchmaker.
type Config struct {
	MaxWait     time.Duration // timeout threshold for unmatched sessions
	PassTimeout time.Duration // sanity bound on a single pass
	Seed        int64         // shuffle seed, 0 seeds from the clock
	HistoryKey  HistoryKey    // nil uses the per-caller default
	Now         func() time.Time
}

// Matchmaker scans the waiting pool once per Run, randomly pairs
// eligible sessions, enforces anti-repeat history and times out
// sessions that have waited too long.
type Matchmaker struct {
	store   store.Repository
	machine *flow.Machine
	gateway Gateway
	locks   *flow.SessionLocks

	maxWait     time.Duration
	passTimeout time.Duration
	historyKey  HistoryKey
	now         func() time.Time

	passMu sync.Mutex
	rngMu  sync.Mutex
	rng    *rand.Rand
}

// New creates a matchmaker. The lock set must be the same instance the
// inbound event path uses.
func New(repo store.Repository, machine *flow.Machine, gw Gateway, locks *flow.SessionLocks, cfg Config) *Matchmaker {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 60 * time.Second
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 30 * time.Second
	}
	if cfg.HistoryKey == nil {
		cfg.HistoryKey = CallerIdentity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = cfg.Now().UnixNano()
	}
	return &Matchmaker{
		store:       repo,
		machine:     machine,
		gateway:     gw,
		locks:       locks,
		maxWait:     cfg.MaxWait,
		passTimeout: cfg.PassTimeout,
		historyKey:  cfg.HistoryKey,
		now:         cfg.Now,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// CallerIdentity keys anti-repeat history off the caller's phone
// number, falling back to the session id for anonymous callers.
func CallerIdentity(s *call.Session) string {
	if s.From != "" {
		return s.From
	}
	return s.ID
}

// Run executes one matchmaking pass. Overlapping passes are skipped:
// two passes scanning the same pool could pair a session twice.
func (m *Matchmaker) Run(ctx context.Context) error {
	if !m.passMu.TryLock() {
		zlog.Warn().Msg("matchmaker pass already running, skipping")
		return nil
	}
	defer m.passMu.Unlock()

	passID := uuid.New().String()
	start := m.now()

	waiting, err := m.store.ListByState(ctx, call.StateWaiting)
	if err != nil {
		return errors.Wrap(err, "failed to load waiting pool")
	}
	metrics.WaitingSessions.Set(float64(len(waiting)))
	zlog.Debug().Str("pass_id", passID).Int("pool_size", len(waiting)).Msg("matchmaker pass started")

	shuffled := m.shuffle(waiting)

	var unrouted []*call.Session
	for i := 0; i+1 < len(shuffled); i += 2 {
		if m.now().Sub(start) > m.passTimeout {
			zlog.Error().Dur("elapsed", m.now().Sub(start)).Msg("aborting matchmaker pass")
			return ErrPassOverrun
		}

		a, b := shuffled[i], shuffled[i+1]
		if !m.eligible(a, b) {
			unrouted = append(unrouted, a, b)
			continue
		}
		if err := m.connect(ctx, a, b); err != nil {
			// Both sides are left untouched and retried next pass.
			metrics.PairFailures.Inc()
			zlog.Error().Err(err).Str("a", a.ID).Str("b", b.ID).Msg("failed to connect pair")
		}
	}
	if len(shuffled)%2 == 1 {
		unrouted = append(unrouted, shuffled[len(shuffled)-1])
	}

	for _, s := range unrouted {
		m.sweep(ctx, s)
	}

	metrics.MatchmakerPasses.Inc()
	metrics.MatchmakerPassDuration.Observe(m.now().Sub(start).Seconds())
	zlog.Debug().Str("pass_id", passID).Dur("elapsed", m.now().Sub(start)).Msg("matchmaker pass finished")
	return nil
}

// shuffle returns a uniformly random permutation of the pool. The
// pool is sorted by id first so a fixed seed yields the same pairing
// regardless of store iteration order.
func (m *Matchmaker) shuffle(pool []*call.Session) []*call.Session {
	out := make([]*call.Session, len(pool))
	copy(out, pool)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	m.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// eligible reports whether two sessions may be paired: distinct caller
// identities, neither in the other's history.
func (m *Matchmaker) eligible(a, b *call.Session) bool {
	keyA, keyB := m.historyKey(a), m.historyKey(b)
	if keyA == keyB {
		return false
	}
	return !a.HasMet(keyB) && !b.HasMet(keyA)
}

// connect pairs two sessions: derives the shared room id, appends each
// partner's identity to the other's history, drives both through
// put_in_conference, persists both and redirects both calls into the
// room. The four-way update is all-or-nothing: if the second save
// fails, the first is rolled back.
func (m *Matchmaker) connect(ctx context.Context, a, b *call.Session) error {
	first, second := a, b
	if second.ID < first.ID {
		first, second = second, first
	}
	unlockFirst := m.locks.Lock(first.ID)
	defer unlockFirst()
	unlockSecond := m.locks.Lock(second.ID)
	defer unlockSecond()

	// The pool is a point-in-time snapshot; re-read under the locks and
	// skip sessions that have left waiting in the meantime.
	fa, err := m.store.Get(ctx, a.ID)
	if err != nil {
		return errors.Wrap(err, "failed to reload session")
	}
	fb, err := m.store.Get(ctx, b.ID)
	if err != nil {
		return errors.Wrap(err, "failed to reload session")
	}
	if fa.State != call.StateWaiting || fb.State != call.StateWaiting {
		zlog.Debug().Str("a", fa.ID).Str("b", fb.ID).Msg("pair left waiting before lock, skipping")
		return nil
	}
	if !m.eligible(fa, fb) {
		return nil
	}

	roomID, err := conference.RoomID(fa.ID, fb.ID)
	if err != nil {
		return errors.Wrap(err, "failed to derive room id")
	}

	rollback := fa.Clone()

	fa.RoomID = roomID
	fa.RecordPartner(m.historyKey(fb))
	if _, err := m.machine.Apply(fa, call.EventPutInConference); err != nil {
		return err
	}

	fb.RoomID = roomID
	fb.RecordPartner(m.historyKey(fa))
	if _, err := m.machine.Apply(fb, call.EventPutInConference); err != nil {
		return err
	}

	if err := m.store.Save(ctx, fa); err != nil {
		return errors.Wrap(err, "failed to persist first side")
	}
	if err := m.store.Save(ctx, fb); err != nil {
		// Half-applied pairing is an inconsistent state: undo the first
		// side before reporting.
		rollback.Version = fa.Version
		if rbErr := m.store.Save(ctx, rollback); rbErr != nil {
			zlog.Error().Err(rbErr).Str("a", fa.ID).Str("b", fb.ID).
				Msg("partial pairing failure: rollback failed, operator attention required")
		}
		return errors.Wrap(err, "failed to persist second side")
	}

	zlog.Info().Str("room_id", roomID).Str("a", fa.ID).Str("b", fb.ID).Msg("pair connected")
	metrics.PairsMatched.Inc()

	// Steer both already-connected calls into the new room.
	for _, s := range []*call.Session{fa, fb} {
		if err := m.gateway.Redirect(ctx, s.ID, call.EventPutInConference); err != nil {
			zlog.Error().Err(err).Str("session_id", s.ID).Msg("failed to redirect into conference")
		}
	}
	return nil
}

// sweep times out an unrouted session whose wait time strictly exceeds
// the threshold; otherwise it is left waiting for the next pass.
func (m *Matchmaker) sweep(ctx context.Context, s *call.Session) {
	unlock := m.locks.Lock(s.ID)
	defer unlock()

	fresh, err := m.store.Get(ctx, s.ID)
	if err != nil {
		zlog.Error().Err(err).Str("session_id", s.ID).Msg("failed to reload unrouted session")
		return
	}
	if fresh.State != call.StateWaiting {
		return
	}

	waited := fresh.WaitTime(m.now())
	zlog.Debug().Str("session_id", fresh.ID).Dur("waited", waited).Msg("unrouted session")
	if waited <= m.maxWait {
		return
	}

	if _, err := m.machine.Apply(fresh, call.EventTimeOut); err != nil {
		zlog.Error().Err(err).Str("session_id", fresh.ID).Msg("failed to time out session")
		return
	}
	if err := m.store.Save(ctx, fresh); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			err = m.retryTimeout(ctx, fresh.ID)
		}
		if err != nil {
			zlog.Error().Err(err).Str("session_id", fresh.ID).Msg("failed to persist timeout")
			return
		}
	}

	zlog.Info().Str("session_id", fresh.ID).Dur("waited", waited).Msg("timing out session")
	metrics.TimeoutsTotal.Inc()

	if err := m.gateway.Redirect(ctx, fresh.ID, call.EventTimeOut); err != nil {
		zlog.Error().Err(err).Str("session_id", fresh.ID).Msg("failed to redirect timed out call")
	}
}

// retryTimeout re-reads a session after a stale write and reapplies the
// timeout once. A second failure is surfaced.
func (m *Matchmaker) retryTimeout(ctx context.Context, id string) error {
	fresh, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if fresh.State != call.StateWaiting {
		return nil
	}
	if _, err := m.machine.Apply(fresh, call.EventTimeOut); err != nil {
		return err
	}
	return m.store.Save(ctx, fresh)
}
