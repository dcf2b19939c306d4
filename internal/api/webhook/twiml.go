package webhook

import (
	"github.com/cockroachdb/errors"
	"github.com/twilio/twilio-go/twiml"

	"github.com/shahabrez/Callroulette/internal/app/flow"
)

// renderTwiML converts a response script into the TwiML document the
// carrier executes against the live call.
func renderTwiML(script flow.Script) (string, error) {
	verbs := make([]twiml.Element, 0, len(script))
	for _, ins := range script {
		switch v := ins.(type) {
		case flow.Say:
			verbs = append(verbs, &twiml.VoiceSay{Message: v.Text})
		case flow.Play:
			verbs = append(verbs, &twiml.VoicePlay{Url: v.URL})
		case flow.Redirect:
			verbs = append(verbs, &twiml.VoiceRedirect{Url: v.URL, Method: "POST"})
		case flow.Hangup:
			verbs = append(verbs, &twiml.VoiceHangup{})
		case flow.Dial:
			conf := &twiml.VoiceConference{
				Name:                v.Conference.Name,
				EndConferenceOnExit: boolAttr(v.Conference.EndOnExit),
			}
			verbs = append(verbs, &twiml.VoiceDial{
				HangupOnStar:  boolAttr(v.HangupOnStar),
				InnerElements: []twiml.Element{conf},
			})
		default:
			return "", errors.Newf("unknown instruction %T", ins)
		}
	}
	return twiml.Voice(verbs)
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
