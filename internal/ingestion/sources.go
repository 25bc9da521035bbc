// Package ingestion connects the indexer to its event feed: a WebSocket
// source for live typed events, an envelope codec, and a runner that enforces
// strict (block number, log index) ordering before handing events to the
// dispatcher.
package ingestion

import (
	"context"

	"lending-index/internal/chain"
)

// EventSource provides typed chain events.
type EventSource interface {
	// Subscribe returns a channel of events. Events may arrive in bursts and
	// slightly out of order across markets; the Runner enforces deterministic
	// ordering. The channel is closed when the context is cancelled or the
	// source fails permanently.
	Subscribe(ctx context.Context) (<-chan chain.Event, error)
}
