package chain

import (
	"errors"
	"sort"
)

// ErrInvalidOrdering is returned when events are not (block, log index)
// ordered.
var ErrInvalidOrdering = errors.New("events are not in block and log index order")

// ValidateOrdering checks that events are strictly ordered by block number
// then log index. The reconcilers assume this total order; it is what makes
// the per-block dedup guard sound.
func ValidateOrdering(events []Event) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// SortEvents sorts events in place by (block number ASC, log index ASC).
// The sort is stable so equal keys, which ValidateOrdering rejects anyway,
// cannot reshuffle.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// compareEvents orders by (block number ASC, log index ASC).
func compareEvents(a, b Event) int {
	am, bm := a.Meta(), b.Meta()
	if am.BlockNumber != bm.BlockNumber {
		if am.BlockNumber < bm.BlockNumber {
			return -1
		}
		return 1
	}
	if am.LogIndex != bm.LogIndex {
		if am.LogIndex < bm.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}
