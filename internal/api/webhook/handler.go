// Package webhook provides the HTTP surface the carrier delivers
// signaling events to.
package webhook

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"github.com/shahabrez/Callroulette/internal/app/flow"
	"github.com/shahabrez/Callroulette/internal/domain/call"
	"github.com/shahabrez/Callroulette/internal/infra/locator"
	"github.com/shahabrez/Callroulette/internal/infra/metrics"
	"github.com/shahabrez/Callroulette/internal/infra/store"
)

// Handler serves the call flow webhook and the ops endpoints.
type Handler struct {
	svc *flow.Service
	loc locator.Locator
}

// NewRouter builds the HTTP router.
func NewRouter(svc *flow.Service, loc locator.Locator) *mux.Router {
	h := &Handler{svc: svc, loc: loc}

	r := mux.NewRouter()
	r.Use(metricsMiddleware)
	r.HandleFunc("/calls/flow", h.Flow).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return r
}

// Flow handles one signaling event. The carrier posts call metadata as
// form fields; the session id and event name travel in the query string
// built by the gateway's flow URLs.
func (h *Handler) Flow(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ev := call.ParseEvent(r.FormValue("event"))
	if ev == "" {
		ev = call.EventIncomingCall
	}
	sessionID := r.FormValue("call_id")
	if sessionID == "" {
		sessionID = r.PostFormValue("CallSid")
	}
	if sessionID == "" {
		// Without a carrier call SID the session could never be
		// redirected; there is nothing to track.
		zlog.Warn().Str("event", string(ev)).Msg("event without call id, rejecting")
		http.Error(w, "missing call id", http.StatusBadRequest)
		return
	}

	if ev == call.EventIncomingCall {
		if err := h.bootstrapSession(r, sessionID); err != nil {
			h.respondFailure(w, sessionID, ev, err)
			return
		}
	}

	script, err := h.svc.HandleEvent(r.Context(), sessionID, ev)
	if err != nil {
		h.respondFailure(w, sessionID, ev, err)
		return
	}

	metrics.EventsTotal.WithLabelValues(string(ev), "ok").Inc()
	h.respondScript(w, script)
}

// bootstrapSession creates the session record for a newly reported
// inbound call, capturing caller metadata from the carrier form fields.
func (h *Handler) bootstrapSession(r *http.Request, sessionID string) error {
	s := call.NewSession(sessionID, r.PostFormValue("From"))
	s.City = r.PostFormValue("FromCity")
	s.Region = r.PostFormValue("FromState")
	s.Country = r.PostFormValue("FromCountry")

	err := h.svc.CreateSession(r.Context(), s)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Carrier retried the webhook; the session is already tracked.
		return nil
	}
	return err
}

// respondFailure delivers the neutral failure script. Internal error
// detail never leaks to the caller.
func (h *Handler) respondFailure(w http.ResponseWriter, sessionID string, ev call.Event, err error) {
	zlog.Error().Err(err).Str("session_id", sessionID).Str("event", string(ev)).
		Msg("event handling failed")
	metrics.EventsTotal.WithLabelValues(string(ev), "error").Inc()
	h.respondScript(w, h.svc.FailureScript())
}

func (h *Handler) respondScript(w http.ResponseWriter, script flow.Script) {
	doc, err := renderTwiML(script)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to render response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(doc))
}

// sessionView is the ops snapshot of one session.
type sessionView struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	RoomID   string `json:"room_id,omitempty"`
	Location string `json:"location"`
}

// ListSessions returns session snapshots for the given state
// (default waiting).
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	state := call.State(r.URL.Query().Get("state"))
	if state == "" {
		state = call.StateWaiting
	}

	sessions, err := h.svc.ListByState(r.Context(), state)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to list sessions")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:       s.ID,
			State:    string(s.State),
			RoomID:   s.RoomID,
			Location: h.loc.Label(s),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		zlog.Error().Err(err).Msg("failed to encode sessions")
	}
}
