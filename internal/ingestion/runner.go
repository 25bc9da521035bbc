package ingestion

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"lending-index/internal/chain"
	"lending-index/internal/observability"
)

// Handler consumes one typed event. The Runner guarantees strict
// (block number, log index) ordering across calls.
type Handler interface {
	HandleEvent(ctx context.Context, event chain.Event) error
}

// Runner pulls events from a source, buffers them per block for deterministic
// ordering and feeds them to the handler one at a time. Events arriving
// behind the ordering cursor are dropped, never applied: the per-block dedup
// guard in the reconcilers is only sound under a total order.
type Runner struct {
	source  EventSource
	handler Handler
	logger  *log.Logger

	// blockLagWindow is how many blocks behind the highest seen block a block
	// must be before its events are processed, absorbing cross-market
	// delivery skew.
	blockLagWindow int64
	// flushInterval forces buffered blocks out even when no higher block
	// arrives.
	flushInterval time.Duration

	buffer       map[int64][]chain.Event
	highestBlock int64

	// Ordering cursor: the last (block, log index) handed to the handler.
	lastBlock    int64
	lastLogIndex uint
	started      bool
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source         EventSource
	Handler        Handler
	BlockLagWindow int64         // Default: 2 blocks
	FlushInterval  time.Duration // Default: 5s
	Logger         *log.Logger
}

// NewRunner creates an ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	blockLagWindow := opts.BlockLagWindow
	if blockLagWindow == 0 {
		blockLagWindow = 2
	}

	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		source:         opts.Source,
		handler:        opts.Handler,
		logger:         logger,
		blockLagWindow: blockLagWindow,
		flushInterval:  flushInterval,
		buffer:         make(map[int64][]chain.Event),
	}
}

// Run starts continuous ingestion. It blocks until the context is cancelled
// or the source channel closes.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Println("Starting ingestion runner...")

	eventsCh, err := r.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	r.logger.Printf("Runner started, block lag window: %d, flush interval: %v", r.blockLagWindow, r.flushInterval)

	for {
		select {
		case <-ctx.Done():
			// Flush all remaining events before shutdown
			r.flushAllBlocks(ctx)
			r.logger.Println("Runner stopping...")
			return ctx.Err()

		case event, ok := <-eventsCh:
			if !ok {
				r.flushAllBlocks(ctx)
				r.logger.Println("Event channel closed")
				return errors.New("event channel closed")
			}
			r.bufferEvent(ctx, event)

		case <-flushTicker.C:
			// Periodic flush: process blocks old enough to be final even if
			// no new blocks arrive.
			r.processFinalizedBlocks(ctx)
		}
	}
}

// bufferEvent adds an event to the block buffer and processes blocks that
// fell behind the lag window.
func (r *Runner) bufferEvent(ctx context.Context, event chain.Event) {
	block := event.Meta().BlockNumber
	r.buffer[block] = append(r.buffer[block], event)

	if block > r.highestBlock {
		r.highestBlock = block
		r.processFinalizedBlocks(ctx)
	} else if block <= r.highestBlock-r.blockLagWindow {
		// Late event for an already-finalized block: process immediately.
		// The ordering cursor decides whether it can still be applied.
		r.processBlock(ctx, block)
	}
}

// processFinalizedBlocks processes every buffered block at or below the lag
// threshold, in ascending order.
func (r *Runner) processFinalizedBlocks(ctx context.Context) {
	finalizedBlock := r.highestBlock - r.blockLagWindow
	if finalizedBlock < 0 {
		return
	}

	var blocks []int64
	for block := range r.buffer {
		if block <= finalizedBlock {
			blocks = append(blocks, block)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, block := range blocks {
		r.processBlock(ctx, block)
	}
}

// processBlock orders one block's events by log index and hands them to the
// handler, advancing the ordering cursor.
func (r *Runner) processBlock(ctx context.Context, block int64) {
	events, ok := r.buffer[block]
	if !ok || len(events) == 0 {
		return
	}
	delete(r.buffer, block)

	chain.SortEvents(events)

	for _, event := range events {
		meta := event.Meta()
		if r.started && !r.cursorAllows(meta.BlockNumber, meta.LogIndex) {
			observability.DefaultMetrics.OrderingViolations.Inc()
			r.logger.Printf("WARN: dropping out-of-order event block=%d log=%d (cursor block=%d log=%d)",
				meta.BlockNumber, meta.LogIndex, r.lastBlock, r.lastLogIndex)
			continue
		}

		if err := r.handler.HandleEvent(ctx, event); err != nil {
			r.logger.Printf("Error handling event block=%d log=%d: %v", meta.BlockNumber, meta.LogIndex, err)
		}

		r.started = true
		r.lastBlock = meta.BlockNumber
		r.lastLogIndex = meta.LogIndex
	}
}

// cursorAllows reports whether (block, logIndex) is strictly after the cursor.
func (r *Runner) cursorAllows(block int64, logIndex uint) bool {
	if block != r.lastBlock {
		return block > r.lastBlock
	}
	return logIndex > r.lastLogIndex
}

// flushAllBlocks processes all remaining buffered blocks on shutdown.
func (r *Runner) flushAllBlocks(ctx context.Context) {
	var blocks []int64
	for block := range r.buffer {
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	for _, block := range blocks {
		r.processBlock(ctx, block)
	}
}
