package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi sends to every notifier and returns all failures combined.
type Multi []Notifier

// NewMulti drops disabled notifiers such as a *Slack without a webhook.
func NewMulti(ns ...Notifier) Multi {
	var m Multi
	for _, n := range ns {
		if n == nil {
			continue
		}
		if s, ok := n.(*Slack); ok && s == nil {
			continue
		}
		m = append(m, n)
	}
	return m
}

func (m Multi) Send(ctx context.Context, title, text string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Send(ctx, title, text))
	}
	return err
}

// Log writes notifications to the structured log.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Send(_ context.Context, title, text string) error {
	l.Logger.Warn("notification", zap.String("title", title), zap.String("text", text))
	return nil
}
