package validation

import "github.com/Sumatoshi-tech/geoval/pkg/series"

// State is the furthest pipeline stage a job reached.
type State int

// Pipeline stages in order.
const (
	StateFetched State = iota
	StateMasked
	StateMatched
	StateScaled
	StateDispatched
	StateAggregated
)

var stateNames = [...]string{"fetched", "masked", "matched", "scaled", "dispatched", "aggregated"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// GroupSkip records a match group that produced no metrics for a job.
type GroupSkip struct {
	Group     int
	Reference string
	Reason    string
	Err       error
}

// JobReport describes how far a job went and what it lost on the way.
type JobReport struct {
	Job   series.Job
	State State

	// Empty lists datasets that had no data for the job.
	Empty []string

	Skipped            []GroupSkip
	FailedCombinations int
}

// Degraded reports whether the job lost any dataset, group or combination.
func (r JobReport) Degraded() bool {
	return len(r.Empty) > 0 || len(r.Skipped) > 0 || r.FailedCombinations > 0
}
