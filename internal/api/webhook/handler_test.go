package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shahabrez/Callroulette/internal/app/flow"
	"github.com/shahabrez/Callroulette/internal/app/matchmaker"
	"github.com/shahabrez/Callroulette/internal/domain/call"
	"github.com/shahabrez/Callroulette/internal/infra/config"
	"github.com/shahabrez/Callroulette/internal/infra/locator"
	"github.com/shahabrez/Callroulette/internal/infra/store"
)

type stubURLs struct{}

func (stubURLs) FlowURL(sessionID string, ev call.Event) string {
	return fmt.Sprintf("https://example.ngrok.io/calls/flow?call_id=%s&event=%s", sessionID, ev)
}

func newTestRouter(t *testing.T) (http.Handler, store.Repository) {
	t.Helper()

	repo := store.NewMemoryStore()
	loc, err := locator.NewFromConfig(config.LocatorConfig{})
	require.NoError(t, err)

	scripts := flow.NewScripter(stubURLs{}, func(ctx context.Context, sessionID string) string {
		return "Someone"
	}, flow.ScripterConfig{Messages: flow.DefaultMessages(), Seed: 1})
	svc := flow.NewService(repo, flow.New(), scripts, flow.NewSessionLocks())

	return NewRouter(svc, loc), repo
}

func postFlow(router http.Handler, query url.Values, form url.Values) *httptest.ResponseRecorder {
	target := "/calls/flow"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestFlow_IncomingCallCreatesSessionAndGreets(t *testing.T) {
	router, repo := newTestRouter(t)

	rec := postFlow(router, nil, url.Values{
		"CallSid":     {"CA100"},
		"From":        {"+15005550001"},
		"FromCity":    {"OAKLAND"},
		"FromState":   {"CA"},
		"FromCountry": {"US"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Connecting you to someone")
	assert.Contains(t, body, "<Redirect")
	assert.Contains(t, body, "greeted")

	s, err := repo.Get(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateGreeting, s.State)
	assert.Equal(t, "+15005550001", s.From)
	assert.Equal(t, "OAKLAND", s.City)
	assert.Equal(t, "CA", s.Region)
	assert.Equal(t, "US", s.Country)
}

func TestFlow_DuplicateIncomingCallTolerated(t *testing.T) {
	router, _ := newTestRouter(t)

	form := url.Values{"CallSid": {"CA100"}, "From": {"+15005550001"}}
	first := postFlow(router, nil, form)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), "Connecting you to someone")

	// A retried webhook renders the greeting again, not a failure.
	second := postFlow(router, nil, form)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), "Connecting you to someone")
}

func TestFlow_GreetedMovesToWaiting(t *testing.T) {
	router, repo := newTestRouter(t)

	postFlow(router, nil, url.Values{"CallSid": {"CA100"}, "From": {"+15005550001"}})

	rec := postFlow(router, url.Values{"call_id": {"CA100"}, "event": {"greeted"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<Play>")
	assert.Contains(t, body, "been waiting way too long! Goodbye")

	s, err := repo.Get(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateWaiting, s.State)
	assert.NotNil(t, s.WaitingAt)
}

func TestFlow_HangUpEndsSession(t *testing.T) {
	router, repo := newTestRouter(t)

	postFlow(router, nil, url.Values{"CallSid": {"CA100"}, "From": {"+15005550001"}})
	postFlow(router, url.Values{"call_id": {"CA100"}, "event": {"greeted"}}, nil)

	rec := postFlow(router, url.Values{"call_id": {"CA100"}, "event": {"hang_up"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s, err := repo.Get(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateEnded, s.State)
	assert.NotNil(t, s.EndedAt)
}

func TestFlow_UnknownSessionGetsFailureScript(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := postFlow(router, url.Values{"call_id": {"missing"}, "event": {"greeted"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "something went wrong")
	assert.Contains(t, rec.Body.String(), "<Hangup")
}

func TestFlow_UnknownEventNameGetsFailureScript(t *testing.T) {
	router, repo := newTestRouter(t)

	postFlow(router, nil, url.Values{"CallSid": {"CA100"}, "From": {"+15005550001"}})

	rec := postFlow(router, url.Values{"call_id": {"CA100"}, "event": {"bogus"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "something went wrong")

	s, err := repo.Get(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, call.StateGreeting, s.State, "unknown event must not change state")
}

func TestFlow_MissingCallIDRejected(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := postFlow(router, nil, url.Values{"From": {"+15005550001"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// redirectGateway records the redirect commands the matchmaker issues
// so the test can replay them against the router as the carrier would.
type redirectGateway struct {
	mu        sync.Mutex
	redirects map[string]call.Event
}

func (g *redirectGateway) Redirect(ctx context.Context, sessionID string, ev call.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.redirects == nil {
		g.redirects = make(map[string]call.Event)
	}
	g.redirects[sessionID] = ev
	return nil
}

func TestFlow_PairedCallRedirectDeliversConference(t *testing.T) {
	router, repo := newTestRouter(t)
	ctx := context.Background()

	// Two callers arrive and reach the waiting pool through the webhook.
	for _, c := range []struct{ sid, from string }{
		{"CA100", "+15005550001"},
		{"CA200", "+15005550002"},
	} {
		rec := postFlow(router, nil, url.Values{"CallSid": {c.sid}, "From": {c.from}})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = postFlow(router, url.Values{"call_id": {c.sid}, "event": {"greeted"}}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	gw := &redirectGateway{}
	mm := matchmaker.New(repo, flow.New(), gw, flow.NewSessionLocks(), matchmaker.Config{
		MaxWait: time.Minute,
		Seed:    7,
	})
	require.NoError(t, mm.Run(ctx))

	s, err := repo.Get(ctx, "CA100")
	require.NoError(t, err)
	require.Equal(t, call.StateInConference, s.State)

	// Replay both redirects as the carrier executes them.
	for _, sid := range []string{"CA100", "CA200"} {
		require.Equal(t, call.EventPutInConference, gw.redirects[sid])

		rec := postFlow(router, url.Values{"call_id": {sid}, "event": {"put_in_conference"}}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "<Conference")
		assert.Contains(t, body, s.RoomID)
		assert.Contains(t, body, "Press star to skip")
		assert.NotContains(t, body, "something went wrong")
	}
}

func TestFlow_TimedOutRedirectDeliversApology(t *testing.T) {
	router, repo := newTestRouter(t)
	ctx := context.Background()

	rec := postFlow(router, nil, url.Values{"CallSid": {"CA100"}, "From": {"+15005550001"}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postFlow(router, url.Values{"call_id": {"CA100"}, "event": {"greeted"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	gw := &redirectGateway{}
	mm := matchmaker.New(repo, flow.New(), gw, flow.NewSessionLocks(), matchmaker.Config{
		MaxWait: time.Minute,
		Seed:    7,
		Now:     func() time.Time { return time.Now().Add(2 * time.Minute) },
	})
	require.NoError(t, mm.Run(ctx))

	s, err := repo.Get(ctx, "CA100")
	require.NoError(t, err)
	require.Equal(t, call.StateTimedOut, s.State)
	require.Equal(t, call.EventTimeOut, gw.redirects["CA100"])

	rec = postFlow(router, url.Values{"call_id": {"CA100"}, "event": {"time_out"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "find someone for you")
	assert.NotContains(t, rec.Body.String(), "something went wrong")
}

func TestListSessions(t *testing.T) {
	router, repo := newTestRouter(t)
	ctx := context.Background()

	waiting := call.NewSession("CA100", "+15005550001")
	waiting.State = call.StateWaiting
	waiting.City = "OAKLAND"
	waiting.Region = "CA"
	require.NoError(t, repo.Create(ctx, waiting))

	ended := call.NewSession("CA200", "+15005550002")
	ended.State = call.StateEnded
	require.NoError(t, repo.Create(ctx, ended))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []struct {
		ID       string `json:"id"`
		State    string `json:"state"`
		Location string `json:"location"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "CA100", views[0].ID)
	assert.Equal(t, "waiting", views[0].State)
	assert.Equal(t, "Someone in Oakland, CA", views[0].Location)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions?state=ended", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "CA200", views[0].ID)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
