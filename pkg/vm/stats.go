package vm

import (
	"fmt"
	"io"
)

const numKinds = int(SparseSlowPut) + 1

// Observer receives storage and allocation events. Calls happen on the
// goroutine driving the realm.
type Observer interface {
	OnTransition(from, to StorageKind, copied int)
	OnBufferAllocated(kind string, byteLength uint64)
	OnBufferRejected(kind string, err error)
}

type noopObserver struct{}

func (noopObserver) OnTransition(StorageKind, StorageKind, int) {}
func (noopObserver) OnBufferAllocated(string, uint64)           {}
func (noopObserver) OnBufferRejected(string, error)             {}

// TransitionStats counts the work done by the transition engine and the
// buffer allocator of one realm.
type TransitionStats struct {
	// Edges[from][to] counts completed transitions.
	Edges            [numKinds][numKinds]uint64
	StoreAllocations uint64
	SlotsCopied      uint64
	// Noops counts transition requests that asked for a kind the object
	// already had (or exceeded); they allocate nothing.
	Noops            uint64
	BuffersAllocated uint64
	BuffersRejected  uint64
}

// Transitions returns the total number of completed transitions.
func (s TransitionStats) Transitions() uint64 {
	var total uint64
	for from := range s.Edges {
		for to := range s.Edges[from] {
			total += s.Edges[from][to]
		}
	}
	return total
}

// TransitionStats returns a snapshot of the realm's counters.
func (r *Realm) TransitionStats() TransitionStats {
	return r.stats
}

// ResetTransitionStats zeroes the realm's counters.
func (r *Realm) ResetTransitionStats() {
	r.stats = TransitionStats{}
}

// PrintTransitionStats writes a human-readable summary of the counters.
func (r *Realm) PrintTransitionStats(w io.Writer) {
	stats := r.stats
	total := stats.Transitions()
	if total == 0 && stats.Noops == 0 {
		fmt.Fprintf(w, "Transition Stats: No transitions\n")
	} else {
		fmt.Fprintf(w, "Transition Stats: Total: %d, Allocations: %d, Slots copied: %d, No-ops: %d\n",
			total, stats.StoreAllocations, stats.SlotsCopied, stats.Noops)
		for from := range stats.Edges {
			for to := range stats.Edges[from] {
				if n := stats.Edges[from][to]; n > 0 {
					fmt.Fprintf(w, "    %s -> %s: %d\n", StorageKind(from), StorageKind(to), n)
				}
			}
		}
	}
	fmt.Fprintf(w, "Buffer Stats: Allocated: %d, Rejected: %d\n", stats.BuffersAllocated, stats.BuffersRejected)
}
