// Package nop provides a Publisher that discards every event. It is the
// default backend when no event stream is configured.
package nop

import (
	"context"

	"github.com/papercomputeco/recall/pkg/eventstream"
)

// Publisher discards all events.
type Publisher struct{}

// NewPublisher creates a no-op publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish discards the event.
func (p *Publisher) Publish(_ context.Context, _ *eventstream.MutationEvent) error {
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
