package domain

// Status is the lifecycle state of an async query job.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusComplete   Status = "COMPLETE"
	StatusFailed     Status = "FAILED"
	StatusTimedOut   Status = "TIMEDOUT"
	StatusCancelled  Status = "CANCELLED"
)

// ActiveStatuses are the only statuses a status transition may start from.
// Every guarded update in the stores matches on this set.
var ActiveStatuses = []Status{StatusProcessing, StatusQueued}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether s is QUEUED or PROCESSING.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// CanTransitionTo reports whether s -> next is a legal transition.
// QUEUED may move to PROCESSING or any terminal status; PROCESSING only to a
// terminal status. Terminal statuses never move.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next.IsTerminal()
	case StatusProcessing:
		return next.IsTerminal()
	default:
		return false
	}
}
