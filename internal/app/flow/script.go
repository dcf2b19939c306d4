package flow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/shahabrez/Callroulette/internal/domain/call"
	"github.com/shahabrez/Callroulette/internal/domain/conference"
)

// Instruction is one step of a response script executed by the
// telephony gateway against the live call.
type Instruction interface {
	instruction()
}

// Say speaks text to the caller.
type Say struct {
	Text string
}

// Play plays an audio URL to the caller.
type Play struct {
	URL string
}

// Redirect steers the call to another flow endpoint.
type Redirect struct {
	URL string
}

// Hangup disconnects the call.
type Hangup struct{}

// Dial bridges the call into a conference room.
type Dial struct {
	HangupOnStar bool
	Conference   Conference
}

// Conference names the room and its teardown semantics.
type Conference struct {
	Name      string
	EndOnExit bool
}

func (Say) instruction()      {}
func (Play) instruction()     {}
func (Redirect) instruction() {}
func (Hangup) instruction()   {}
func (Dial) instruction()     {}

// Script is the ordered instruction sequence for one response.
type Script []Instruction

// DefaultHoldMusic is the hold audio set played while waiting.
var DefaultHoldMusic = []string{
	"http://com.twilio.music.classical.s3.amazonaws.com/MARKOVICHAMP-Borghestral.mp3",
	"http://com.twilio.music.classical.s3.amazonaws.com/Mellotroniac_-_Flight_Of_Young_Hearts_Flute.mp3",
	"http://com.twilio.music.classical.s3.amazonaws.com/ith_chopin-15-2.mp3",
	"http://com.twilio.music.classical.s3.amazonaws.com/oldDog_-_endless_goodbye_%28instr.%29.mp3",
	"http://com.twilio.music.classical.s3.amazonaws.com/ClockworkWaltz.mp3",
	"http://com.twilio.music.classical.s3.amazonaws.com/BusyStrings.mp3",
	"http://com.twilio.music.classical.s3.amazonaws.com/ith_brahms-116-4.mp3",
}

// Messages holds the user-facing lines spoken by the scripts.
type Messages struct {
	Greeting       string
	WaitingGoodbye string
	TimedOut       string
	TalkingTo      string // format string taking the partner label
	Failure        string
}

// DefaultMessages returns the stock script lines.
func DefaultMessages() Messages {
	return Messages{
		Greeting:       "Connecting you to someone",
		WaitingGoodbye: "You've been waiting way too long! Goodbye",
		TimedOut:       "Sorry we couldn't find someone for you. Please call back later and try again",
		TalkingTo:      "You are talking to %s... Press star to skip.",
		Failure:        "Sorry, something went wrong. Please call back later.",
	}
}

// URLBuilder builds flow endpoint URLs for a session and event.
type URLBuilder interface {
	FlowURL(sessionID string, ev call.Event) string
}

// LabelFunc resolves a session id to a caller display label. It must
// never fail; lookup problems are recovered with a generic label.
type LabelFunc func(ctx context.Context, sessionID string) string

// ScripterConfig configures script generation.
type ScripterConfig struct {
	HoldMusic []string
	Messages  Messages
	Seed      int64 // 0 seeds from the clock
}

// Scripter generates the response script for a session's state. It is
// independent of the transition tables so pairing logic never depends
// on script content.
type Scripter struct {
	urls      URLBuilder
	label     LabelFunc
	holdMusic []string
	messages  Messages

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewScripter creates a scripter.
func NewScripter(urls URLBuilder, label LabelFunc, cfg ScripterConfig) *Scripter {
	holdMusic := cfg.HoldMusic
	if len(holdMusic) == 0 {
		holdMusic = DefaultHoldMusic
	}
	if cfg.Messages == (Messages{}) {
		cfg.Messages = DefaultMessages()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Scripter{
		urls:      urls,
		label:     label,
		holdMusic: holdMusic,
		messages:  cfg.Messages,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// ScriptFor returns the script for the session's current state.
// Terminal and transient states (initial, ended) have no script.
func (sc *Scripter) ScriptFor(ctx context.Context, s *call.Session) Script {
	switch s.State {
	case call.StateGreeting:
		return Script{
			Say{Text: sc.messages.Greeting},
			Redirect{URL: sc.urls.FlowURL(s.ID, call.EventGreeted)},
		}

	case call.StateWaiting:
		// Default fallback if the caller never leaves waiting before
		// the call disconnects naturally.
		script := make(Script, 0, len(sc.holdMusic)+2)
		for _, url := range sc.shuffledHoldMusic() {
			script = append(script, Play{URL: url})
		}
		script = append(script, Say{Text: sc.messages.WaitingGoodbye}, Hangup{})
		return script

	case call.StateInConference:
		partnerID, err := conference.Other(s.ID, s.RoomID)
		if err != nil {
			zlog.Warn().Err(err).Str("session_id", s.ID).Str("room_id", s.RoomID).
				Msg("cannot resolve conference partner, hanging up")
			return sc.FailureScript()
		}
		return Script{
			Say{Text: fmt.Sprintf(sc.messages.TalkingTo, sc.label(ctx, partnerID))},
			Dial{
				HangupOnStar: true,
				Conference:   Conference{Name: s.RoomID, EndOnExit: true},
			},
			Redirect{URL: sc.urls.FlowURL(s.ID, call.EventCleanup)},
		}

	case call.StateTimedOut:
		return Script{Say{Text: sc.messages.TimedOut}}
	}

	return nil
}

// FailureScript is the neutral response delivered when a fatal error
// occurs while handling an inbound event.
func (sc *Scripter) FailureScript() Script {
	return Script{
		Say{Text: sc.messages.Failure},
		Hangup{},
	}
}

// shuffledHoldMusic returns a fresh pseudo-random ordering of the hold
// audio set.
func (sc *Scripter) shuffledHoldMusic() []string {
	out := make([]string, len(sc.holdMusic))
	copy(out, sc.holdMusic)

	sc.rngMu.Lock()
	defer sc.rngMu.Unlock()
	sc.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
