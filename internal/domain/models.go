package domain

import "time"

// CandidateKind tells the decision state how a winning candidate is routed.
type CandidateKind string

const (
	KindDirect    CandidateKind = "direct"
	KindProxySeed CandidateKind = "proxy_seed"
)

func (k CandidateKind) Valid() bool {
	return k == KindDirect || k == KindProxySeed
}

// Candidate is a URL that may serve as the egress point.
type Candidate struct {
	URL  string        `json:"url"`
	Kind CandidateKind `json:"kind"`
}

type RoundID string

type ProbeResult string

const (
	ResultValid   ProbeResult = "valid"
	ResultInvalid ProbeResult = "invalid"
)

// ProbeOutcome is produced once per candidate per round.
type ProbeOutcome struct {
	RoundID   RoundID       `json:"round_id"`
	URL       string        `json:"url"`
	Kind      CandidateKind `json:"kind"`
	Result    ProbeResult   `json:"result"`
	Cause     string        `json:"cause,omitempty"`
	LatencyMS float64       `json:"latency_ms"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (o ProbeOutcome) Valid() bool { return o.Result == ResultValid }

// Causes carried by ProbeRoundEnded.
const (
	CauseAllInvalid = "all-invalid"
	CauseTimeout    = "timeout"
	CauseDecided    = "decided"
	CauseCancelled  = "cancelled"
)

// ProbeRoundEnded marks that no further outcomes arrive for RoundID.
type ProbeRoundEnded struct {
	RoundID RoundID   `json:"round_id"`
	Cause   string    `json:"cause"`
	EndedAt time.Time `json:"ended_at"`
}

// RoundResult is the journal row written when a round leaves Probing or ends.
type RoundResult struct {
	RoundID    RoundID   `json:"round_id"`
	Phase      Phase     `json:"phase"`
	WinningURL string    `json:"winning_url,omitempty"`
	Cause      string    `json:"cause,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// FetchResult records one feed fetch attempted through the gated client.
type FetchResult struct {
	URL        string    `json:"url"`
	OK         bool      `json:"ok"`
	Deferred   bool      `json:"deferred"`
	HTTPStatus int       `json:"http_status,omitempty"`
	LatencyMS  float64   `json:"latency_ms"`
	Reason     string    `json:"reason,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
}
