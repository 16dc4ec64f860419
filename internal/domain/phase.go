package domain

import "time"

// Phase of the egress decision.
//
//	idle -> probing
//	probing -> committed_direct | committed_engine | ended_without_success
//	ended_without_success | committed_engine -> probing (new round)
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseProbing             Phase = "probing"
	PhaseCommittedDirect     Phase = "committed_direct"
	PhaseCommittedEngine     Phase = "committed_engine"
	PhaseEndedWithoutSuccess Phase = "ended_without_success"
)

// IsCommitted reports whether a route was chosen.
func (p Phase) IsCommitted() bool {
	return p == PhaseCommittedDirect || p == PhaseCommittedEngine
}

func (p Phase) String() string { return string(p) }

// Decision is a read-only snapshot of the decision state.
type Decision struct {
	Phase       Phase     `json:"phase"`
	RoundID     RoundID   `json:"round_id,omitempty"`
	WinningURL  string    `json:"winning_url,omitempty"`
	Cause       string    `json:"cause,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	DecidedAt   time.Time `json:"decided_at,omitempty"`
	EngineReady bool      `json:"engine_ready,omitempty"`
	EngineErr   string    `json:"engine_error,omitempty"`
}

// Usable reports whether the gate can route traffic for this snapshot.
func (d Decision) Usable() bool {
	switch d.Phase {
	case PhaseCommittedDirect:
		return true
	case PhaseCommittedEngine:
		return d.EngineReady && d.EngineErr == ""
	default:
		return false
	}
}
