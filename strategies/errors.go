package strategies

import "fmt"

// State of a strategy's lifecycle. Transitions are one-way:
// Configured --Setup--> Ready --Teardown--> TornDown.
type State int

const (
	// Configured: constructed, device not yet bound. Only Setup and Teardown are valid.
	Configured State = iota

	// Ready: Setup completed, collectives and placement operations are valid.
	Ready

	// TornDown: terminal, no operations are valid (repeated Teardown excepted).
	TornDown
)

func (s State) String() string {
	switch s {
	case Configured:
		return "Configured"
	case Ready:
		return "Ready"
	case TornDown:
		return "TornDown"
	}
	return fmt.Sprintf("invalid_state(%d)", int(s))
}

// LifecycleError signals a caller defect: an operation was invoked while the
// strategy was outside the state that allows it.
type LifecycleError struct {
	// Op is the operation that was attempted, e.g. "Reduce".
	Op string

	// State the strategy was in at the time.
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("strategy operation %s invoked in state %s, only valid in state Ready "+
		"(did you forget to call Setup, or call after Teardown?)", e.Op, e.State)
}

// CollectiveError signals a failed collective operation on a multi-unit
// topology: incompatible arguments across units or a unit failing to arrive.
// No partial result accompanies it; the affected training step is lost and the
// error propagates to the orchestrator on every participating unit.
type CollectiveError struct {
	// Op is the collective that failed, e.g. "AllGather".
	Op string

	// Rank is the global rank observing the failure.
	Rank int

	// Reason describes the mismatch or failure.
	Reason string
}

func (e *CollectiveError) Error() string {
	return fmt.Sprintf("collective %s failed at rank %d: %s", e.Op, e.Rank, e.Reason)
}
