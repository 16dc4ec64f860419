package repo

import (
	"context"
	"time"

	"github.com/hamed0406/egressgate/internal/domain"
)

// AlertRecord is the alert state kept per key.
type AlertRecord struct {
	Key         string `json:"key"`
	LastHealthy bool   `json:"last_healthy"`
	// RoundID is the round whose decision last changed LastHealthy.
	RoundID    domain.RoundID `json:"round_id,omitempty"`
	LastSentAt *time.Time     `json:"last_sent_at,omitempty"` // cooldown reference
	UpdatedAt  time.Time      `json:"updated_at"`
}

type AlertUpdate struct {
	Key     string
	Healthy bool
	RoundID domain.RoundID
	// SentAt is zero when no notification went out; the previous send time is kept.
	SentAt time.Time
}

type AlertStore interface {
	// GetAlert returns nil, nil if there's no record yet.
	GetAlert(ctx context.Context, key string) (*AlertRecord, error)
	PutAlert(ctx context.Context, u AlertUpdate) error
}
