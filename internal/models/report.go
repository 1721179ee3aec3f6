package models

import (
	"fmt"
	"io"
	"time"
)

// SourceState is a step of the per-flyer state machine.
type SourceState string

const (
	StateDiscovered              SourceState = "DISCOVERED"
	StateSkippedAlreadyProcessed SourceState = "SKIPPED_ALREADY_PROCESSED"
	StateRasterizing             SourceState = "RASTERIZING"
	StateBatching                SourceState = "BATCHING"
	StateExtracting              SourceState = "EXTRACTING"
	StateNormalizing             SourceState = "NORMALIZING"
	StateCompleted               SourceState = "COMPLETED"
	StateFailed                  SourceState = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s SourceState) Terminal() bool {
	return s == StateSkippedAlreadyProcessed || s == StateCompleted || s == StateFailed
}

// SourceResult is the outcome of one flyer in a run.
type SourceResult struct {
	FileName   string      `json:"fileName"`
	State      SourceState `json:"state"`
	Reason     string      `json:"reason,omitempty"`
	OfferCount int         `json:"offerCount"`
	Dropped    int         `json:"droppedOffers"`
	Batches    int         `json:"batches"`
	DatasetURI string      `json:"datasetUri,omitempty"`
}

// RunReport is the user-visible summary of a run.
type RunReport struct {
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Sources    []SourceResult `json:"sources"`
}

// Count returns how many sources ended in the given state.
func (r *RunReport) Count(state SourceState) int {
	n := 0
	for _, s := range r.Sources {
		if s.State == state {
			n++
		}
	}
	return n
}

// Print writes a human readable summary.
func (r *RunReport) Print(w io.Writer) {
	fmt.Fprintf(w, "Run finished in %s: %d processed, %d skipped, %d failed\n",
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		r.Count(StateCompleted), r.Count(StateSkippedAlreadyProcessed), r.Count(StateFailed))
	for _, s := range r.Sources {
		switch s.State {
		case StateCompleted:
			fmt.Fprintf(w, "  [OK]      %s (%d offers, %d dropped, %d batches)\n", s.FileName, s.OfferCount, s.Dropped, s.Batches)
		case StateSkippedAlreadyProcessed:
			fmt.Fprintf(w, "  [SKIPPED] %s: %s\n", s.FileName, s.Reason)
		default:
			fmt.Fprintf(w, "  [FAILED]  %s: %s\n", s.FileName, s.Reason)
		}
	}
}
