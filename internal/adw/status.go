package adw

import "fmt"

// Status represents the lifecycle state of a workflow run.
type Status string

const (
	// StatusQueued indicates the workflow is admitted but its child process has not started.
	StatusQueued Status = "queued"

	// StatusRunning indicates the child process is executing.
	StatusRunning Status = "running"

	// StatusCompleted indicates the workflow finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the workflow terminated with an error.
	StatusFailed Status = "failed"

	// StatusStopped indicates the workflow was stopped by an operator request.
	StatusStopped Status = "stopped"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized workflow status.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transitions are allowed from this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// validTransitions defines the allowed moves between workflow statuses.
// Terminal statuses have no outgoing transitions.
var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusFailed, StatusStopped},
	StatusRunning: {StatusCompleted, StatusFailed, StatusStopped},
}

// CanTransitionTo returns true if a workflow may move from s to next.
// A same-status transition is always permitted; callers treat it as a no-op.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected workflow status transition.
type InvalidTransitionError struct {
	ADWID string
	From  Status
	To    Status
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("workflow %s: invalid status transition %s -> %s", e.ADWID, e.From, e.To)
}
