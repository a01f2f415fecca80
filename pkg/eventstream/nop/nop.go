// Package nop provides the disabled-mode eventstream publisher.
package nop

import (
	"context"

	"github.com/parleyhq/parley/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and when
// publishing is disabled in configuration.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishTurn validates input and otherwise does nothing.
func (p *Publisher) PublishTurn(_ context.Context, event *eventstream.TurnAppendedEvent) error {
	if event == nil {
		return eventstream.ErrNilTurnEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
