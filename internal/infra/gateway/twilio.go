// Package gateway provides the carrier-side collaborator: flow endpoint
// URLs and asynchronous call redirects via the Twilio REST API.
package gateway

import (
	"context"
	"net/url"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/twilio/twilio-go"

	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/shahabrez/Callroulette/internal/domain/call"
)

// Config holds carrier credentials and the public webhook root.
// Injected at construction time; no process-wide client singleton.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
}

// Twilio is the carrier gateway.
type Twilio struct {
	client  *twilio.RestClient
	baseURL *url.URL
}

// New creates a gateway with an authenticated REST client.
func New(cfg Config) (*Twilio, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse base URL")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Twilio{client: client, baseURL: base}, nil
}

// FlowURL builds the webhook endpoint the carrier should hit to deliver
// the given event for a session.
func (g *Twilio) FlowURL(sessionID string, ev call.Event) string {
	u := *g.baseURL
	u.Path = path.Join(u.Path, "calls/flow")
	q := url.Values{}
	q.Set("call_id", sessionID)
	q.Set("event", string(ev))
	u.RawQuery = q.Encode()
	return u.String()
}

// Redirect asks the carrier to steer an already-connected call toward
// the flow endpoint for the given event.
func (g *Twilio) Redirect(ctx context.Context, sessionID string, ev call.Event) error {
	params := &openapi.UpdateCallParams{}
	params.SetUrl(g.FlowURL(sessionID, ev))
	params.SetMethod("POST")

	if _, err := g.client.Api.UpdateCall(sessionID, params); err != nil {
		return errors.Wrapf(err, "failed to redirect call %s to %s", sessionID, ev)
	}
	return nil
}
