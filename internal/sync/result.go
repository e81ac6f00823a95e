package sync

import (
	"sort"

	"github.com/samber/lo"
)

// Direction is one of the two replication directions
type Direction int

const (
	ToNetworked Direction = iota
	ToEmbedded
)

func (d Direction) String() string {
	if d == ToNetworked {
		return "embedded->networked"
	}
	return "networked->embedded"
}

// Phase is the state of one direction of one table's pass:
// Idle -> Selecting -> Applying -> Committed, or Failed.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelecting
	PhaseApplying
	PhaseCommitted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSelecting:
		return "selecting"
	case PhaseApplying:
		return "applying"
	case PhaseCommitted:
		return "committed"
	case PhaseFailed:
		return "failed"
	}
	return "idle"
}

// Reasons a table was skipped for a cycle
const (
	SkipUnavailable = "networked store unavailable"
	SkipUnreachable = "networked store unreachable"
	SkipDisabled    = "disabled"
	SkipCancelled   = "cancelled"
)

// DirectionResult is the outcome of one direction of a table pass
type DirectionResult struct {
	// Attempted counts every selected row, applied or not
	Attempted int
	// Failed counts rows whose upsert failed at the row level
	Failed int
	// Echoed counts selected rows left alone because the opposite direction
	// had just written them with the same values
	Echoed int
	Phase  Phase
	// Err is set when an error escaped the apply loop
	Err error
}

// TableResult is the outcome of SyncTable
type TableResult struct {
	Table       string
	ToNetworked DirectionResult
	ToEmbedded  DirectionResult
	// Skipped is non-empty when the table was not synchronized this cycle
	Skipped string
	Err     error
}

// Errors returns the number of failed rows in both directions
func (r TableResult) Errors() int {
	return r.ToNetworked.Failed + r.ToEmbedded.Failed
}

// Changed reports whether any row was attempted in either direction
func (r TableResult) Changed() bool {
	return r.ToNetworked.Attempted > 0 || r.ToEmbedded.Attempted > 0
}

// Results maps table names to their outcome
type Results map[string]TableResult

// Totals sums attempted rows per direction and failed rows
func (r Results) Totals() (toNetworked, toEmbedded, errs int) {
	values := lo.Values(r)
	toNetworked = lo.SumBy(values, func(t TableResult) int { return t.ToNetworked.Attempted })
	toEmbedded = lo.SumBy(values, func(t TableResult) int { return t.ToEmbedded.Attempted })
	errs = lo.SumBy(values, func(t TableResult) int { return t.Errors() })
	return
}

// Tables returns the table names in alphabetical order
func (r Results) Tables() []string {
	names := lo.Keys(r)
	sort.Strings(names)
	return names
}

// AllSkipped reports whether no table was synchronized, e.g. because the
// networked store was unreachable
func (r Results) AllSkipped() bool {
	return len(r) > 0 && lo.EveryBy(lo.Values(r), func(t TableResult) bool { return t.Skipped != "" })
}
