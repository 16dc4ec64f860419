// Package events carries probe results from the dispatcher to whoever is listening.
//
// The bus replaces a platform-wide broadcast: subscribers register and unregister
// explicitly, publishing never blocks, and a subscriber that registers mid-round can
// ask for the events of the current round to be replayed so a result published while
// nobody was listening is still honoured.
package events

import (
	"time"

	"github.com/hamed0406/egressgate/internal/domain"
)

type Kind string

const (
	ValidationSucceeded Kind = "validation_succeeded"
	ValidationFailed    Kind = "validation_failed"
	ValidationEnded     Kind = "validation_ended"
)

// Event is one signal on the bus. Outcome is set for Succeeded/Failed, Ended for Ended.
type Event struct {
	Kind    Kind                   `json:"kind"`
	Outcome domain.ProbeOutcome    `json:"outcome,omitempty"`
	Ended   domain.ProbeRoundEnded `json:"ended,omitempty"`
	At      time.Time              `json:"at"`
}

func FromOutcome(o domain.ProbeOutcome) Event {
	k := ValidationFailed
	if o.Valid() {
		k = ValidationSucceeded
	}
	return Event{Kind: k, Outcome: o, At: time.Now().UTC()}
}

func FromEnded(e domain.ProbeRoundEnded) Event {
	return Event{Kind: ValidationEnded, Ended: e, At: time.Now().UTC()}
}

func (e Event) RoundID() domain.RoundID {
	if e.Kind == ValidationEnded {
		return e.Ended.RoundID
	}
	return e.Outcome.RoundID
}

// URL of the candidate, empty for ValidationEnded.
func (e Event) URL() string {
	if e.Kind == ValidationEnded {
		return ""
	}
	return e.Outcome.URL
}

// Cause is the failure cause of an outcome or the end cause of a round.
func (e Event) Cause() string {
	if e.Kind == ValidationEnded {
		return e.Ended.Cause
	}
	return e.Outcome.Cause
}
