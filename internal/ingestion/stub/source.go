// Package stub provides a deterministic event source for tests and replays.
package stub

import (
	"context"

	"lending-index/internal/chain"
	"lending-index/internal/ingestion"
)

// EventSource replays a fixed slice of events.
type EventSource struct {
	events []chain.Event
}

var _ ingestion.EventSource = (*EventSource)(nil)

// NewEventSource creates a stub source over the given events. They are
// delivered in slice order; use chain.SortEvents first if the fixture is not
// already ordered.
func NewEventSource(events []chain.Event) *EventSource {
	return &EventSource{events: events}
}

// Subscribe delivers all events and closes the channel.
func (s *EventSource) Subscribe(ctx context.Context) (<-chan chain.Event, error) {
	ch := make(chan chain.Event, len(s.events))
	go func() {
		defer close(ch)
		for _, event := range s.events {
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
