package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shahabrez/Callroulette/internal/domain/call"
	"github.com/shahabrez/Callroulette/internal/infra/store"
)

// staleStore fails the next n saves with ErrStaleWrite before
// delegating to the in-memory store.
type staleStore struct {
	*store.MemoryStore
	staleRemaining int
}

func (s *staleStore) Save(ctx context.Context, sess *call.Session) error {
	if s.staleRemaining > 0 {
		s.staleRemaining--
		return store.ErrStaleWrite
	}
	return s.MemoryStore.Save(ctx, sess)
}

func newTestService(repo store.Repository) *Service {
	return NewService(repo, New(), newTestScripter(1), NewSessionLocks())
}

func TestService_HandleEvent(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	svc := newTestService(repo)

	s := call.NewSession("CA100", "+15005550001")
	require.NoError(t, svc.CreateSession(ctx, s))

	script, err := svc.HandleEvent(ctx, "CA100", call.EventIncomingCall)
	require.NoError(t, err)
	assert.Equal(t, Say{Text: "Connecting you to someone"}, script[0])

	saved, err := repo.Get(ctx, "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateGreeting, saved.State)
}

func TestService_HandleEvent_InvalidTransition(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	svc := newTestService(repo)

	s := call.NewSession("CA100", "+15005550001")
	require.NoError(t, svc.CreateSession(ctx, s))

	_, err := svc.HandleEvent(ctx, "CA100", call.EventGreeted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	saved, err := repo.Get(ctx, "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateInitial, saved.State, "failed event must not change state")
}

func TestService_HandleEvent_RedirectArrivalRendersCurrentState(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	svc := newTestService(repo)

	// The matchmaker already moved the session to in_conference; the
	// carrier now delivers the redirect for the same event.
	s := call.NewSession("CA100", "+15005550001")
	s.State = call.StateInConference
	s.RoomID = "CA100::CA200"
	require.NoError(t, svc.CreateSession(ctx, s))

	script, err := svc.HandleEvent(ctx, "CA100", call.EventPutInConference)
	require.NoError(t, err)
	require.NotEmpty(t, script)
	assert.IsType(t, Dial{}, script[1], "redirect arrival must render the conference bridge")

	saved, err := repo.Get(ctx, "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateInConference, saved.State)
	assert.Equal(t, int64(1), saved.Version, "arrival must not write")
}

func TestService_HandleEvent_TimeoutArrivalRendersApology(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryStore()
	svc := newTestService(repo)

	s := call.NewSession("CA100", "+15005550001")
	s.State = call.StateTimedOut
	require.NoError(t, svc.CreateSession(ctx, s))

	script, err := svc.HandleEvent(ctx, "CA100", call.EventTimeOut)
	require.NoError(t, err)
	require.Len(t, script, 1)
	say, ok := script[0].(Say)
	require.True(t, ok)
	assert.Contains(t, say.Text, "couldn't find someone")

	saved, err := repo.Get(ctx, "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateTimedOut, saved.State)
}

func TestService_HandleEvent_UnknownSession(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())

	_, err := svc.HandleEvent(context.Background(), "missing", call.EventIncomingCall)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_HandleEvent_RetriesStaleWriteOnce(t *testing.T) {
	ctx := context.Background()
	repo := &staleStore{MemoryStore: store.NewMemoryStore(), staleRemaining: 1}
	svc := newTestService(repo)

	s := call.NewSession("CA100", "+15005550001")
	require.NoError(t, svc.CreateSession(ctx, s))

	_, err := svc.HandleEvent(ctx, "CA100", call.EventIncomingCall)
	require.NoError(t, err)

	saved, err := repo.Get(ctx, "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateGreeting, saved.State)
}

func TestService_HandleEvent_SurfacesRepeatedStaleWrite(t *testing.T) {
	ctx := context.Background()
	repo := &staleStore{MemoryStore: store.NewMemoryStore(), staleRemaining: 2}
	svc := newTestService(repo)

	s := call.NewSession("CA100", "+15005550001")
	require.NoError(t, svc.CreateSession(ctx, s))

	_, err := svc.HandleEvent(ctx, "CA100", call.EventIncomingCall)
	assert.ErrorIs(t, err, store.ErrStaleWrite)
}
