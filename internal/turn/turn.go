// Package turn coalesces streamed transcript fragments into committed
// conversation turns.
//
// An [Aggregator] keeps one open turn at a time. A turn is committed when the
// endpoint signals completion, when a fragment from the other speaker
// arrives, when the remote voice is interrupted, or when the session ends.
// Every non-empty turn is committed exactly once; empty turns never are.
//
// Aggregator is not safe for concurrent use. The session dispatch loop owns
// it and calls it in arrival order.
package turn

import (
	"strings"

	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// Turn is one committed span of speech attributed to a single speaker.
type Turn struct {
	Speaker transport.Speaker
	Text    string
}

// Aggregator converts transcript fragments into committed turns.
type Aggregator struct {
	onUpdate func(transport.Speaker, string)
	onCommit func(Turn)

	open    bool
	speaker transport.Speaker
	text    strings.Builder

	log []Turn
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithOnUpdate registers a callback fired after every fragment with the
// open turn's current text.
func WithOnUpdate(fn func(speaker transport.Speaker, text string)) Option {
	return func(a *Aggregator) { a.onUpdate = fn }
}

// WithOnCommit registers a callback fired once per committed turn.
func WithOnCommit(fn func(Turn)) Option {
	return func(a *Aggregator) { a.onCommit = fn }
}

// New returns an empty Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Transcript feeds one fragment. When delta is true text extends the open
// turn; otherwise it is a cumulative hypothesis and replaces it. A fragment
// from a different speaker commits the open turn first.
func (a *Aggregator) Transcript(speaker transport.Speaker, text string, delta bool) {
	if text == "" {
		return
	}
	if a.open && a.speaker != speaker {
		a.commit()
	}
	if !a.open {
		a.open = true
		a.speaker = speaker
	}
	if !delta {
		a.text.Reset()
	}
	a.text.WriteString(text)

	if a.onUpdate != nil {
		a.onUpdate(a.speaker, a.text.String())
	}
}

// TurnComplete commits the open turn. Redundant completions are ignored.
func (a *Aggregator) TurnComplete() {
	a.commit()
}

// Interrupted commits whatever the remote speaker has said so far. An open
// user turn is left alone: the user is the one barging in and keeps talking.
func (a *Aggregator) Interrupted() {
	if a.open && a.speaker == transport.SpeakerRemote {
		a.commit()
	}
}

// Flush commits the open turn, if any. It is called at session teardown.
func (a *Aggregator) Flush() {
	a.commit()
}

// Pending returns the open turn and whether one exists.
func (a *Aggregator) Pending() (Turn, bool) {
	if !a.open {
		return Turn{}, false
	}
	return Turn{Speaker: a.speaker, Text: a.text.String()}, true
}

// Log returns a copy of all turns committed so far, oldest first.
func (a *Aggregator) Log() []Turn {
	out := make([]Turn, len(a.log))
	copy(out, a.log)
	return out
}

func (a *Aggregator) commit() {
	if !a.open {
		return
	}
	t := Turn{Speaker: a.speaker, Text: a.text.String()}
	a.open = false
	a.text.Reset()

	if strings.TrimSpace(t.Text) == "" {
		return
	}
	a.log = append(a.log, t)
	if a.onCommit != nil {
		a.onCommit(t)
	}
}
